package session

import "fmt"

// Protocol identifies a Dynamixel protocol revision by its published name.
type Protocol string

// Supported protocol revisions.
const (
	ProtocolV1 Protocol = "1.0"
	ProtocolV2 Protocol = "2.0"
)

// ParseProtocol accepts exactly "1.0" or "2.0".
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolV1, ProtocolV2:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProtocol, s)
	}
}

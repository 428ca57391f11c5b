package dynamixel

import (
	"errors"
	"fmt"
)

// Bus-level failures. A servo that stays silent for the whole status window
// yields ErrNoResponse; one that starts answering but never completes a
// packet yields ErrTimeout.
var (
	ErrTimeout       = errors.New("status packet timed out")
	ErrNoResponse    = errors.New("no status packet from servo")
	ErrInvalidPacket = errors.New("malformed dynamixel packet")
	ErrBusClosed     = errors.New("dynamixel bus closed")
	ErrInvalidID     = errors.New("servo ID out of range")
)

// CommError is a failure to put an instruction packet on the wire.
type CommError struct {
	Op  string // instruction name: "ping", "read" or "write"
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("%s instruction not sent: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// ServoError is a failed instruction addressed to one servo. Status holds the
// error field of its status packet (StatusError for Protocol 1.0,
// StatusErrorV2 for 2.0); Err holds a transport or framing failure.
type ServoError struct {
	ID     int
	Op     string
	Status error
	Err    error
}

func (e *ServoError) Error() string {
	cause := e.Err
	if e.Status != nil {
		cause = e.Status
	}
	if cause == nil {
		return fmt.Sprintf("servo %d %s failed", e.ID, e.Op)
	}
	return fmt.Sprintf("servo %d %s failed: %v", e.ID, e.Op, cause)
}

func (e *ServoError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Status
}

// IsTimeout reports whether a status packet arrived only partially.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNoResponse reports whether the addressed servo never answered, which is
// the normal outcome of pinging an unused ID.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// GetServoError returns the ServoError in err's chain, if any.
func GetServoError(err error) (*ServoError, bool) {
	var servoErr *ServoError
	if errors.As(err, &servoErr) {
		return servoErr, true
	}
	return nil, false
}

package dynamixel

import (
	"io"
	"time"
)

// Transport is the byte-level link to a Dynamixel bus. Both protocol
// revisions share it; the serial implementation lives in package transports.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a single Read may block.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}

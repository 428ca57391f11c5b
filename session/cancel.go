package session

import "sync/atomic"

// CancelFlag is polled by a running scan between pings. The zero value is
// ready to use and a nil flag is never cancelled.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel requests that the scan stop before its next ping.
func (f *CancelFlag) Cancel() {
	f.cancelled.Store(true)
}

// Reset clears a previous cancel request.
func (f *CancelFlag) Reset() {
	f.cancelled.Store(false)
}

// Cancelled reports whether Cancel was called since the last Reset.
func (f *CancelFlag) Cancelled() bool {
	return f != nil && f.cancelled.Load()
}

package session

import (
	"errors"
	"fmt"
)

// Operation-level failures. Per-device and per-field failures are reported
// inside the event streams instead.
var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionFailure   = errors.New("connection failure")
	ErrNoActiveConnection  = errors.New("no active connection")
	ErrLockFailure         = errors.New("connection lock poisoned")
	ErrTaskFailure         = errors.New("task failed")
	ErrScanInProgress      = errors.New("scan already in progress")
	ErrInvalidRange        = errors.New("invalid ID range")
)

// ConnectionError reports a bus that could not be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open port %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailure, e.Err}
}

// TaskError reports a worker that panicked instead of returning.
type TaskError struct {
	Op    string
	Panic string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task failed: %s", e.Op, e.Panic)
}

func (e *TaskError) Unwrap() error {
	return ErrTaskFailure
}

// Package session coordinates scans and a persistent connection over a
// Dynamixel bus. A Session runs at most one scan at a time and never holds a
// persistent connection while a scan owns the port.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hipsterbrown/servobus/dynamixel"
	"github.com/hipsterbrown/servobus/transports"
)

// State is the coarse status of a Session.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateConnected State = "connected"
)

// Session is the entry point used by the HTTP server and the CLI.
type Session struct {
	connector Connector
	conn      *ConnectionManager
	cancel    CancelFlag
	logger    *zap.Logger

	stateMu  sync.Mutex
	scanning bool
}

// New creates a Session. A nil connector opens real serial ports and a nil
// logger discards output.
func New(c Connector, logger *zap.Logger) *Session {
	if c == nil {
		c = SerialConnector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")
	return &Session{
		connector: c,
		conn:      NewConnectionManager(c, logger.Named("connection")),
		logger:    logger,
	}
}

// ListPorts returns the serial ports present on this machine.
func (s *Session) ListPorts() []string {
	return transports.ListPorts()
}

// ScanServos closes any persistent connection and sweeps the requested
// range, streaming events to sink. With ConnectAfter set, a persistent
// connection is opened with the same parameters once the sweep completes,
// even if it was cancelled. An invalid request is rejected before the
// persistent connection is touched.
func (s *Session) ScanServos(ctx context.Context, req ScanRequest, sink Sink[ScanEvent]) error {
	if _, err := req.validate(); err != nil {
		return err
	}
	if err := s.beginScan(); err != nil {
		return err
	}

	logger := s.logger.With(
		zap.String("scan_id", uuid.NewString()),
		zap.String("port", req.Port),
		zap.String("protocol", string(req.Protocol)),
		zap.Int("baudrate", req.Baudrate),
	)
	scanErr := s.runWorker("scan", func() error {
		return Scan(ctx, s.connector, req, &s.cancel, sink, logger)
	})

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.scanning = false

	if scanErr != nil || !req.ConnectAfter {
		return scanErr
	}
	return s.openLocked(req.Port, req.Protocol, req.Baudrate)
}

func (s *Session) beginScan() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.scanning {
		return ErrScanInProgress
	}
	if err := s.conn.Close(); err != nil {
		if errors.Is(err, ErrLockFailure) {
			return err
		}
		s.logger.Warn("Failed to close connection before scan", zap.Error(err))
	}
	s.cancel.Reset()
	s.scanning = true
	return nil
}

// CancelScan asks a running scan to stop before its next ping. It never
// blocks and does nothing when no scan is running.
func (s *Session) CancelScan() {
	s.cancel.Cancel()
}

// OpenConnection replaces the persistent connection. It is refused while a
// scan owns the port.
func (s *Session) OpenConnection(port string, protocol Protocol, baudrate int) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.scanning {
		return ErrScanInProgress
	}
	return s.openLocked(port, protocol, baudrate)
}

func (s *Session) openLocked(port string, protocol Protocol, baudrate int) error {
	return s.runWorker("connect", func() error {
		return s.conn.Open(port, protocol, baudrate)
	})
}

// Disconnect closes the persistent connection, if any.
func (s *Session) Disconnect() error {
	return s.runWorker("disconnect", s.conn.Close)
}

// ReadControlTable reads each field from one servo over the persistent
// connection. Every field yields a Value or a ReadError, in request order,
// followed by ReadFinished. The connection lock is taken per field so that
// other callers can interleave between fields.
func (s *Session) ReadControlTable(ctx context.Context, servoID uint8, fields []RegisterField, sink Sink[ReadEvent]) error {
	return s.runWorker("read", func() error {
		if err := s.conn.WithConnection(func(*Bus) error { return nil }); err != nil {
			return err
		}

		emit := func(ev ReadEvent) {
			if sink == nil {
				return
			}
			if err := sink.Send(ev); err != nil {
				s.logger.Debug("Dropped read event", zap.String("event", ev.EventName()), zap.Error(err))
			}
		}

		for _, field := range fields {
			var data []byte
			err := s.conn.WithConnection(func(b *Bus) error {
				var err error
				data, err = b.Read(ctx, servoID, field)
				return err
			})
			switch {
			case errors.Is(err, ErrLockFailure):
				return err
			case err != nil:
				emit(ReadError{Address: field.Address, Message: err.Error()})
			default:
				emit(Value{Address: field.Address, Value: dynamixel.DecodeValue(data)})
			}
		}

		emit(ReadFinished{})
		return nil
	})
}

// WriteAddress writes raw bytes to one servo over the persistent connection.
func (s *Session) WriteAddress(ctx context.Context, servoID uint8, address uint16, data []byte) error {
	return s.runWorker("write", func() error {
		return s.conn.WithConnection(func(b *Bus) error {
			return b.Write(ctx, servoID, address, data)
		})
	})
}

// State reports whether the session is scanning, connected or idle.
func (s *Session) State() State {
	s.stateMu.Lock()
	scanning := s.scanning
	s.stateMu.Unlock()

	if scanning {
		return StateScanning
	}
	if _, ok := s.conn.Connected(); ok {
		return StateConnected
	}
	return StateIdle
}

// Connection returns the persistent connection's parameters, if any.
func (s *Session) Connection() (ConnectionInfo, bool) {
	return s.conn.Connected()
}

// Close cancels any running scan and drops the persistent connection.
func (s *Session) Close() error {
	s.CancelScan()
	return s.conn.Close()
}

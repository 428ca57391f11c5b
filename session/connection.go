package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ConnectionInfo describes the open persistent connection.
type ConnectionInfo struct {
	Port     string   `json:"port"`
	Protocol Protocol `json:"protocol"`
	Baudrate int      `json:"baudrate"`
}

// ConnectionManager holds at most one persistent bus. Every operation runs
// under one mutex. A panic while the mutex is held poisons the manager and
// all later operations fail with ErrLockFailure.
type ConnectionManager struct {
	connector Connector
	logger    *zap.Logger

	mu       sync.Mutex
	bus      *Bus
	info     ConnectionInfo
	poisoned bool
}

// NewConnectionManager returns an empty manager.
func NewConnectionManager(c Connector, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{connector: c, logger: logger}
}

func (m *ConnectionManager) guard(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return ErrLockFailure
	}

	completed := false
	defer func() {
		if !completed {
			m.poisoned = true
			m.logger.Error("Connection lock poisoned by panic")
		}
	}()

	err := fn()
	completed = true
	return err
}

// Open drops any held connection and then opens a new one. If the new bus
// fails to open the manager is left empty.
func (m *ConnectionManager) Open(port string, protocol Protocol, baudrate int) error {
	p, err := ParseProtocol(string(protocol))
	if err != nil {
		return err
	}

	return m.guard(func() error {
		m.dropLocked()

		b, err := Connect(m.connector, port, p, baudrate, ConnectionTimeout)
		if err != nil {
			m.logger.Warn("Failed to open connection", zap.String("port", port), zap.Error(err))
			return err
		}

		m.bus = b
		m.info = ConnectionInfo{Port: port, Protocol: p, Baudrate: baudrate}
		m.logger.Info("Connection opened",
			zap.String("port", port),
			zap.String("protocol", string(p)),
			zap.Int("baudrate", baudrate),
		)
		return nil
	})
}

// Close releases the held connection. Closing with nothing held succeeds.
func (m *ConnectionManager) Close() error {
	return m.guard(func() error {
		if m.bus == nil {
			return nil
		}
		b, port := m.bus, m.info.Port
		m.bus = nil
		m.info = ConnectionInfo{}
		if err := b.Close(); err != nil {
			return fmt.Errorf("close %s: %w", port, err)
		}
		m.logger.Info("Connection closed", zap.String("port", port))
		return nil
	})
}

func (m *ConnectionManager) dropLocked() {
	if m.bus == nil {
		return
	}
	if err := m.bus.Close(); err != nil {
		m.logger.Warn("Failed to close previous connection", zap.String("port", m.info.Port), zap.Error(err))
	}
	m.bus = nil
	m.info = ConnectionInfo{}
}

// WithConnection runs fn with the held bus while holding the lock. It fails
// with ErrNoActiveConnection when nothing is held.
func (m *ConnectionManager) WithConnection(fn func(*Bus) error) error {
	return m.guard(func() error {
		if m.bus == nil {
			return ErrNoActiveConnection
		}
		return fn(m.bus)
	})
}

// Connected returns the held connection's parameters, if any.
func (m *ConnectionManager) Connected() (ConnectionInfo, bool) {
	var (
		info ConnectionInfo
		ok   bool
	)
	_ = m.guard(func() error {
		info, ok = m.info, m.bus != nil
		return nil
	})
	return info, ok
}

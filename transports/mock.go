package transports

import (
	"io"
	"sync"
	"time"
)

// MockTransport implements dynamixel.Transport for testing.
type MockTransport struct {
	mu sync.Mutex

	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	Flushed     bool

	// ReadFunc allows custom read behavior for complex tests.
	ReadFunc func(p []byte) (int, error)

	// Responder, when set, is called with every written packet and its
	// result is queued as read data, simulating servos on the bus.
	Responder func(packet []byte) []byte
}

func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	readFunc := m.ReadFunc
	m.mu.Unlock()
	if readFunc != nil {
		return readFunc(p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	if m.Responder != nil {
		m.ReadData = append(m.ReadData, m.Responder(p)...)
	}
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Flushed = true
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}

// Written returns a copy of everything written so far.
func (m *MockTransport) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]byte(nil), m.WriteData...)
}

// IsClosed reports whether Close has been called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Closed
}

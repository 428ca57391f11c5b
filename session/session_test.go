package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(servos map[byte]fakeServo) (*Session, *fakeConnector) {
	c := newFakeConnector(servos)
	return New(c, zap.NewNop()), c
}

func TestSession_ScanClosesPersistentConnection(t *testing.T) {
	s, c := newTestSession(map[byte]fakeServo{1: {model: 1060}})
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))
	assert.Equal(t, StateConnected, s.State())

	rec := &recorder[ScanEvent]{}
	require.NoError(t, s.ScanServos(context.Background(), scanRequest(ProtocolV2, 0, 2), rec))

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, c.bus.maxOpen, "scan and persistent buses must never overlap")
	assert.Contains(t, rec.Events(), ScanEvent(Found{ServoInfo{ID: 1, ModelNumber: 1060}}))
}

func TestSession_ScanConnectAfter(t *testing.T) {
	s, c := newTestSession(nil)
	req := scanRequest(ProtocolV1, 0, 3)
	req.ConnectAfter = true

	require.NoError(t, s.ScanServos(context.Background(), req, nil))

	info, ok := s.Connection()
	require.True(t, ok)
	assert.Equal(t, ConnectionInfo{Port: req.Port, Protocol: ProtocolV1, Baudrate: req.Baudrate}, info)
	assert.Equal(t, StateConnected, s.State())

	calls := c.connects()
	require.Len(t, calls, 2)
	assert.Equal(t, ScanTimeout, calls[0].timeout)
	assert.Equal(t, ConnectionTimeout, calls[1].timeout)
}

func TestSession_ScanFailureSkipsConnectAfter(t *testing.T) {
	s, _ := newTestSession(nil)
	req := scanRequest(ProtocolV2, 9, 1)
	req.ConnectAfter = true

	require.ErrorIs(t, s.ScanServos(context.Background(), req, nil), ErrInvalidRange)

	_, ok := s.Connection()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_RejectedScanKeepsConnection(t *testing.T) {
	tests := []struct {
		name    string
		req     ScanRequest
		wantErr error
	}{
		{"unknown protocol", scanRequest("3.0", 0, 2), ErrUnsupportedProtocol},
		{"inverted range", scanRequest(ProtocolV2, 9, 1), ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newTestSession(map[byte]fakeServo{1: {model: 1060}})
			require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))

			rec := &recorder[ScanEvent]{}
			require.ErrorIs(t, s.ScanServos(context.Background(), tt.req, rec), tt.wantErr)

			info, ok := s.Connection()
			require.True(t, ok)
			assert.Equal(t, ProtocolV2, info.Protocol)
			assert.Equal(t, StateConnected, s.State())
			assert.Len(t, c.connects(), 1)
			assert.Empty(t, rec.Events())
		})
	}
}

func TestSession_ConcurrentScanIsRefused(t *testing.T) {
	s, c := newTestSession(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.bus.onPing = func(byte) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	rec := &recorder[ScanEvent]{}
	done := make(chan error, 1)
	go func() {
		done <- s.ScanServos(context.Background(), scanRequest(ProtocolV2, 0, 50), rec)
	}()
	<-started

	assert.Equal(t, StateScanning, s.State())
	assert.ErrorIs(t, s.ScanServos(context.Background(), scanRequest(ProtocolV2, 0, 1), nil), ErrScanInProgress)
	assert.ErrorIs(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600), ErrScanInProgress)

	s.CancelScan()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not stop after cancel")
	}

	events := rec.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, ScanFinished{Cancelled: true}, events[len(events)-1])
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_StaleCancelDoesNotAffectNextScan(t *testing.T) {
	s, _ := newTestSession(nil)
	s.CancelScan()

	rec := &recorder[ScanEvent]{}
	require.NoError(t, s.ScanServos(context.Background(), scanRequest(ProtocolV2, 0, 2), rec))

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, ScanFinished{Cancelled: false}, events[3])
}

func TestSession_ReadControlTable(t *testing.T) {
	s, _ := newTestSession(map[byte]fakeServo{
		1: {model: 1060, table: map[uint16][]byte{
			0:   {0x24, 0x04},
			132: le32(-10),
		}},
	})
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))

	rec := &recorder[ReadEvent]{}
	err := s.ReadControlTable(context.Background(), 1, []RegisterField{
		{Address: 132, Size: 4},
		{Address: 64, Size: 1},
		{Address: 0, Size: 2},
	}, rec)
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 4)
	assert.Equal(t, Value{Address: 132, Value: -10}, events[0])
	readErr, ok := events[1].(ReadError)
	require.True(t, ok)
	assert.Equal(t, uint16(64), readErr.Address)
	assert.Contains(t, readErr.Message, "access error")
	assert.Equal(t, Value{Address: 0, Value: 1060}, events[2])
	assert.Equal(t, ReadFinished{}, events[3])
}

func TestSession_ReadControlTableEmptyFieldList(t *testing.T) {
	s, _ := newTestSession(nil)
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))

	rec := &recorder[ReadEvent]{}
	require.NoError(t, s.ReadControlTable(context.Background(), 1, nil, rec))
	assert.Equal(t, []ReadEvent{ReadFinished{}}, rec.Events())
}

func TestSession_ReadControlTableUnknownServo(t *testing.T) {
	s, _ := newTestSession(nil)
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV1, 57600))

	rec := &recorder[ReadEvent]{}
	require.NoError(t, s.ReadControlTable(context.Background(), 7, []RegisterField{{Address: 36, Size: 2}}, rec))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.IsType(t, ReadError{}, events[0])
	assert.Equal(t, ReadFinished{}, events[1])
}

func TestSession_ReadControlTableWithoutConnection(t *testing.T) {
	s, _ := newTestSession(nil)

	rec := &recorder[ReadEvent]{}
	err := s.ReadControlTable(context.Background(), 1, []RegisterField{{Address: 0, Size: 2}}, rec)

	require.ErrorIs(t, err, ErrNoActiveConnection)
	assert.Empty(t, rec.Events())
}

func TestSession_ReadPanicBecomesTaskError(t *testing.T) {
	s, c := newTestSession(map[byte]fakeServo{1: {model: 1060}})
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))
	c.bus.readPanic = true

	err := s.ReadControlTable(context.Background(), 1, []RegisterField{{Address: 0, Size: 2}}, nil)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "read", taskErr.Op)
	assert.Equal(t, "read exploded", taskErr.Panic)
	assert.ErrorIs(t, err, ErrTaskFailure)

	assert.ErrorIs(t, s.Disconnect(), ErrLockFailure)
}

func TestSession_WriteAddress(t *testing.T) {
	s, c := newTestSession(map[byte]fakeServo{3: {model: 1060}})

	require.ErrorIs(t, s.WriteAddress(context.Background(), 3, 64, []byte{1}), ErrNoActiveConnection)

	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))
	require.NoError(t, s.WriteAddress(context.Background(), 3, 116, le32(2048)))

	require.Len(t, c.bus.writes, 1)
	assert.Equal(t, fakeWrite{id: 3, address: 116, data: le32(2048)}, c.bus.writes[0])
}

func TestSession_DisconnectAndClose(t *testing.T) {
	s, c := newTestSession(nil)

	require.NoError(t, s.Disconnect(), "nothing to disconnect")
	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.OpenConnection("/dev/ttyUSB0", ProtocolV2, 57600))
	require.NoError(t, s.Close())
	assert.Equal(t, 0, c.bus.open)
}

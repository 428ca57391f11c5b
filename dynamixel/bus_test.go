package dynamixel

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hipsterbrown/servobus/transports"
)

// v2Servos simulates Protocol 2.0 servos answering pings and reads.
func v2Servos(models map[byte]uint16, table map[uint16][]byte) func([]byte) []byte {
	var p ProtocolV2
	return func(packet []byte) []byte {
		pkt, _, err := p.Decode(packet)
		if err != nil {
			return nil
		}
		var out []byte
		for id, model := range models {
			if pkt.ID != id && pkt.ID != BroadcastID {
				continue
			}
			switch pkt.Instruction {
			case InstPing:
				out = append(out, p.Encode(Packet{
					ID:          id,
					Instruction: InstStatus,
					Parameters:  []byte{byte(model), byte(model >> 8), 0x2C},
				})...)
			case InstRead:
				addr := uint16(pkt.Parameters[0]) | uint16(pkt.Parameters[1])<<8
				out = append(out, p.Encode(Packet{ID: id, Instruction: InstStatus, Parameters: table[addr]})...)
			case InstWrite:
				out = append(out, p.Encode(Packet{ID: id, Instruction: InstStatus})...)
			}
		}
		return out
	}
}

func TestBusV1_Ping(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC},
	}

	bus, err := NewBusV1(BusConfig{
		Transport: mock,
		Timeout:   100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBusV1 failed: %v", err)
	}
	defer bus.Close()

	ids, err := bus.Ping(context.Background(), 1)
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !bytes.Equal(ids, []byte{1}) {
		t.Errorf("ids: got %v, want [1]", ids)
	}

	written := mock.Written()
	if len(written) < 6 {
		t.Fatalf("no packet written")
	}
	if written[4] != InstPing {
		t.Errorf("wrong instruction: got %02X, want %02X", written[4], InstPing)
	}
}

func TestBusV1_PingNoResponse(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBusV1(BusConfig{Transport: mock, Timeout: 20 * time.Millisecond})
	defer bus.Close()

	_, err := bus.Ping(context.Background(), 7)
	if !IsNoResponse(err) {
		t.Errorf("expected no response error, got %v", err)
	}
}

func TestBusV1_PingBroadcast(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{
			0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC,
			0xFF, 0xFF, 0x02, 0x02, 0x00, 0xFB,
		},
	}
	bus, _ := NewBusV1(BusConfig{Transport: mock, Timeout: 30 * time.Millisecond})
	defer bus.Close()

	ids, err := bus.Ping(context.Background(), BroadcastID)
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !bytes.Equal(ids, []byte{1, 2}) {
		t.Errorf("ids: got %v, want [1 2]", ids)
	}
}

func TestBusV1_Read(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x04, 0x00, 0x00, 0x08, 0xF2},
	}
	bus, _ := NewBusV1(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	data, err := bus.Read(context.Background(), 1, 36, 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := DecodeValue(data); got != 2048 {
		t.Errorf("position: got %d, want 2048", got)
	}
}

func TestBusV1_ReadStatusError(t *testing.T) {
	// Status packet with the overheat flag set: checksum ~(01+03+04+20)
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x03, 0x04, 0x20, 0xD7},
	}
	bus, _ := NewBusV1(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	_, err := bus.Read(context.Background(), 1, 43, 1)
	servoErr, ok := GetServoError(err)
	if !ok {
		t.Fatalf("expected ServoError, got %v", err)
	}
	if servoErr.Status != ErrOverheat {
		t.Errorf("status: got %v, want overheat", servoErr.Status)
	}
}

func TestBusV1_Write(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC},
	}
	bus, _ := NewBusV1(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	if err := bus.Write(context.Background(), 1, 24, []byte{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	written := mock.Written()
	if written[4] != InstWrite {
		t.Errorf("wrong instruction: got %02X, want %02X", written[4], InstWrite)
	}
	if written[5] != 24 {
		t.Errorf("wrong address: got %d, want 24", written[5])
	}
}

func TestBusV2_PingReportsModel(t *testing.T) {
	mock := &transports.MockTransport{
		Responder: v2Servos(map[byte]uint16{3: 1060}, nil),
	}
	bus, _ := NewBusV2(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	found, err := bus.Ping(context.Background(), 3)
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d responses, want 1", len(found))
	}
	if found[0].ID != 3 || found[0].ModelNumber != 1060 {
		t.Errorf("response: got %+v, want ID 3 model 1060", found[0])
	}
}

func TestBusV2_PingBroadcast(t *testing.T) {
	mock := &transports.MockTransport{
		Responder: v2Servos(map[byte]uint16{1: 1060, 2: 1020}, nil),
	}
	bus, _ := NewBusV2(BusConfig{Transport: mock, Timeout: 30 * time.Millisecond})
	defer bus.Close()

	found, err := bus.Ping(context.Background(), BroadcastID)
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	models := map[byte]uint16{}
	for _, f := range found {
		models[f.ID] = f.ModelNumber
	}
	if len(models) != 2 || models[1] != 1060 || models[2] != 1020 {
		t.Errorf("responses: got %v", models)
	}
}

func TestBusV2_Read(t *testing.T) {
	mock := &transports.MockTransport{
		Responder: v2Servos(map[byte]uint16{1: 1060}, map[uint16][]byte{
			132: {0xFF, 0xFF, 0xFF, 0xFF},
		}),
	}
	bus, _ := NewBusV2(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	data, err := bus.Read(context.Background(), 1, 132, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := DecodeValue(data); got != -1 {
		t.Errorf("value: got %d, want -1", got)
	}
}

func TestBusV2_ReadLengthMismatch(t *testing.T) {
	mock := &transports.MockTransport{
		Responder: v2Servos(map[byte]uint16{1: 1060}, map[uint16][]byte{
			64: {0x01},
		}),
	}
	bus, _ := NewBusV2(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	_, err := bus.Read(context.Background(), 1, 64, 2)
	if !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("expected ErrInvalidPacket, got %v", err)
	}
}

func TestBusV2_Write(t *testing.T) {
	mock := &transports.MockTransport{
		Responder: v2Servos(map[byte]uint16{1: 1060}, nil),
	}
	bus, _ := NewBusV2(BusConfig{Transport: mock, Timeout: 100 * time.Millisecond})
	defer bus.Close()

	if err := bus.Write(context.Background(), 1, 64, []byte{1}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestBus_InvalidID(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBusV2(BusConfig{Transport: mock})
	defer bus.Close()

	ctx := context.Background()

	_, err := bus.Ping(ctx, 0xFF)
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for 0xFF, got %v", err)
	}

	_, err = bus.Read(ctx, BroadcastID, 0, 1)
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for broadcast read, got %v", err)
	}
}

func TestBus_Close(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBusV1(BusConfig{Transport: mock})

	err := bus.Close()
	if err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !mock.IsClosed() {
		t.Error("transport not closed")
	}

	// Closing again should be safe
	err = bus.Close()
	if err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestBus_ClosedOperations(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBusV2(BusConfig{Transport: mock})
	bus.Close()

	_, err := bus.Ping(context.Background(), 1)
	if err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestBus_ContextCancellation(t *testing.T) {
	// Simulate slow transport
	mock := &transports.MockTransport{
		ReadFunc: func(p []byte) (int, error) {
			time.Sleep(20 * time.Millisecond)
			return 0, nil
		},
	}

	bus, _ := NewBusV1(BusConfig{
		Transport: mock,
		Timeout:   time.Second,
	})
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := bus.Ping(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline error, got %v", err)
	}
}

func TestNewBus_RequiresTransportOrPort(t *testing.T) {
	if _, err := NewBusV1(BusConfig{}); err == nil {
		t.Error("expected error without transport or port")
	}
}

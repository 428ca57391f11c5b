package dynamixel

import (
	"context"
	"fmt"
	"time"
)

// BusV1 talks Protocol 1.0: 8-bit addresses and lengths, checksum framing,
// and ping responses that carry no model number.
type BusV1 struct {
	*bus
	protocol ProtocolV1
}

// NewBusV1 creates a Protocol 1.0 bus with the given configuration.
func NewBusV1(cfg BusConfig) (*BusV1, error) {
	var p ProtocolV1
	core, err := newBus(cfg, p.Decode)
	if err != nil {
		return nil, err
	}
	return &BusV1{bus: core, protocol: p}, nil
}

// Ping returns the IDs that answered. Pinging BroadcastID collects every
// servo that responds within the timeout.
func (b *BusV1) Ping(ctx context.Context, id byte) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id != BroadcastID {
		// A status packet with error flags still proves a servo is present.
		if _, err := b.requestLocked(ctx, "ping", id, b.protocol.PingPacket(id)); err != nil {
			return nil, err
		}
		return []byte{id}, nil
	}

	if b.closed {
		return nil, ErrBusClosed
	}
	if err := b.sendPacketLocked(b.protocol.PingPacket(id)); err != nil {
		return nil, &CommError{Op: "ping", Err: err}
	}
	packets, err := b.collectPacketsLocked(ctx, time.Now().Add(b.timeout))
	if err != nil && len(packets) == 0 {
		return nil, &CommError{Op: "ping", Err: err}
	}

	ids := make([]byte, 0, len(packets))
	for _, pkt := range packets {
		ids = append(ids, pkt.ID)
	}
	return ids, nil
}

// Read reads length bytes starting at address from a servo's control table.
func (b *BusV1) Read(ctx context.Context, id, address, length byte) ([]byte, error) {
	if err := validateUnicastID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.requestLocked(ctx, "read", id, b.protocol.ReadPacket(id, address, length))
	if err != nil {
		return nil, err
	}
	if status := StatusError(resp.Error); status.HasError() {
		return nil, &ServoError{ID: int(id), Op: "read", Status: status}
	}
	if len(resp.Parameters) != int(length) {
		return nil, &ServoError{
			ID:  int(id),
			Op:  "read",
			Err: fmt.Errorf("%w: got %d data bytes, want %d", ErrInvalidPacket, len(resp.Parameters), length),
		}
	}
	return resp.Parameters, nil
}

// Write writes data starting at address. Writes to BroadcastID get no
// status packet and return as soon as the instruction is sent.
func (b *BusV1) Write(ctx context.Context, id, address byte, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	packet := b.protocol.WritePacket(id, address, data)
	if id == BroadcastID {
		if b.closed {
			return ErrBusClosed
		}
		if err := b.sendPacketLocked(packet); err != nil {
			return &CommError{Op: "write", Err: err}
		}
		return nil
	}

	resp, err := b.requestLocked(ctx, "write", id, packet)
	if err != nil {
		return err
	}
	if status := StatusError(resp.Error); status.HasError() {
		return &ServoError{ID: int(id), Op: "write", Status: status}
	}
	return nil
}

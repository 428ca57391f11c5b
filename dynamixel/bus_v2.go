package dynamixel

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// PingResponse is one servo's answer to a Protocol 2.0 ping.
type PingResponse struct {
	ID          byte
	ModelNumber uint16
	Firmware    byte
}

// BusV2 talks Protocol 2.0: 16-bit addresses and lengths, CRC framing, and
// ping responses that identify the servo model.
type BusV2 struct {
	*bus
	protocol ProtocolV2
}

// NewBusV2 creates a Protocol 2.0 bus with the given configuration.
func NewBusV2(cfg BusConfig) (*BusV2, error) {
	var p ProtocolV2
	core, err := newBus(cfg, p.Decode)
	if err != nil {
		return nil, err
	}
	return &BusV2{bus: core, protocol: p}, nil
}

// Ping returns every servo that answered. A unicast ping yields at most one
// response; pinging BroadcastID collects all responders within the timeout.
func (b *BusV2) Ping(ctx context.Context, id byte) ([]PingResponse, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id != BroadcastID {
		resp, err := b.requestLocked(ctx, "ping", id, b.protocol.PingPacket(id))
		if err != nil {
			return nil, err
		}
		info, err := parsePingResponse(resp)
		if err != nil {
			return nil, &ServoError{ID: int(id), Op: "ping", Err: err}
		}
		return []PingResponse{info}, nil
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

	found := make([]PingResponse, 0, len(packets))
	for _, pkt := range packets {
		info, err := parsePingResponse(pkt)
		if err != nil {
			continue
		}
		found = append(found, info)
	}
	return found, nil
}

func parsePingResponse(pkt Packet) (PingResponse, error) {
	if pkt.Instruction != InstStatus {
		return PingResponse{}, fmt.Errorf("%w: instruction 0x%02X is not a status", ErrInvalidPacket, pkt.Instruction)
	}
	if len(pkt.Parameters) < 3 {
		return PingResponse{}, fmt.Errorf("%w: ping status has %d parameters", ErrInvalidPacket, len(pkt.Parameters))
	}
	return PingResponse{
		ID:          pkt.ID,
		ModelNumber: binary.LittleEndian.Uint16(pkt.Parameters[0:2]),
		Firmware:    pkt.Parameters[2],
	}, nil
}

// Read reads length bytes starting at address from a servo's control table.
func (b *BusV2) Read(ctx context.Context, id byte, address, length uint16) ([]byte, error) {
	if err := validateUnicastID(id); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.requestLocked(ctx, "read", id, b.protocol.ReadPacket(id, address, length))
	if err != nil {
		return nil, err
	}
	if status := StatusErrorV2(resp.Error); status.HasError() {
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
func (b *BusV2) Write(ctx context.Context, id byte, address uint16, data []byte) error {
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
	if status := StatusErrorV2(resp.Error); status.HasError() {
		return &ServoError{ID: int(id), Op: "write", Status: status}
	}
	return nil
}

package dynamixel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/servobus/transports"
)

// BusConfig holds configuration for creating a new bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 57600.
	BaudRate int

	// Timeout bounds the wait for a status packet. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration
}

// DefaultBaudRate is the factory baud rate of most Dynamixel servos.
const DefaultBaudRate = 57600

// bus is the packet I/O shared by BusV1 and BusV2. Methods suffixed with
// Locked expect mu to be held.
type bus struct {
	transport Transport
	timeout   time.Duration
	decode    func([]byte) (Packet, int, error)

	mu          sync.Mutex
	pending     []byte
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

func newBus(cfg BusConfig, decode func([]byte) (Packet, int, error)) (*bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}

	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	return &bus{
		transport:   transport,
		timeout:     cfg.Timeout,
		decode:      decode,
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases the transport. It is safe to call twice.
func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

func validateID(id byte) error {
	if id > MaxServoID && id != BroadcastID {
		return fmt.Errorf("%w: %d (valid range: 0-%d or broadcast %d)", ErrInvalidID, id, MaxServoID, BroadcastID)
	}
	return nil
}

func validateUnicastID(id byte) error {
	if id > MaxServoID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *bus) sendPacketLocked(packet []byte) error {
	b.enforceCommandGap()

	// Drop stale input so the next status packet belongs to this instruction.
	b.transport.Flush()
	b.pending = b.pending[:0]

	n, err := b.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = time.Now()

	// Half-duplex turnaround.
	time.Sleep(100 * time.Microsecond)

	return nil
}

// readPacketLocked returns the next complete packet received before the
// deadline. Bytes following the packet stay buffered for the next call.
func (b *bus) readPacketLocked(ctx context.Context, deadline time.Time) (Packet, error) {
	buf := make([]byte, 256)

	for {
		if len(b.pending) > 0 {
			pkt, consumed, err := b.decode(b.pending)
			if err == nil {
				b.pending = b.pending[consumed:]
				return pkt, nil
			}
			if !errors.Is(err, errIncompletePacket) {
				b.pending = b.pending[:0]
				return Packet{}, err
			}
		}

		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if len(b.pending) == 0 {
				return Packet{}, ErrNoResponse
			}
			return Packet{}, fmt.Errorf("%w: %d bytes without a complete packet", ErrTimeout, len(b.pending))
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		b.transport.SetReadTimeout(remaining)

		n, err := b.transport.Read(buf)
		if n > 0 {
			b.pending = append(b.pending, buf[:n]...)
			continue
		}
		if err != nil {
			// Read timeouts surface as errors on some platforms.
			time.Sleep(time.Millisecond)
		}
	}
}

// collectPacketsLocked gathers every packet that arrives before the deadline.
// It is used for broadcast instructions where any number of servos answer.
func (b *bus) collectPacketsLocked(ctx context.Context, deadline time.Time) ([]Packet, error) {
	var packets []Packet
	for {
		pkt, err := b.readPacketLocked(ctx, deadline)
		switch {
		case err == nil:
			packets = append(packets, pkt)
		case errors.Is(err, ErrInvalidPacket):
			// A collision between responders; keep listening.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return packets, err
		default:
			if len(packets) == 0 {
				return nil, ErrNoResponse
			}
			return packets, nil
		}
	}
}

// requestLocked sends an instruction to a single servo and waits for its
// status packet.
func (b *bus) requestLocked(ctx context.Context, op string, id byte, packet []byte) (Packet, error) {
	if b.closed {
		return Packet{}, ErrBusClosed
	}
	if err := b.sendPacketLocked(packet); err != nil {
		return Packet{}, &CommError{Op: op, Err: err}
	}

	resp, err := b.readPacketLocked(ctx, time.Now().Add(b.timeout))
	if err != nil {
		return Packet{}, &ServoError{ID: int(id), Op: op, Err: err}
	}
	if resp.ID != id {
		return Packet{}, &ServoError{
			ID:  int(id),
			Op:  op,
			Err: fmt.Errorf("%w: wrong servo ID in response: got %d", ErrInvalidPacket, resp.ID),
		}
	}
	return resp, nil
}

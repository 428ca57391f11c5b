package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/servobus/dynamixel"
)

// RegisterField is a span of a servo's control table.
type RegisterField struct {
	Address uint16 `json:"address"`
	Size    uint16 `json:"size"`
}

// V1Bus is the Protocol 1.0 capability set. *dynamixel.BusV1 satisfies it.
type V1Bus interface {
	Ping(ctx context.Context, id byte) ([]byte, error)
	Read(ctx context.Context, id, address, length byte) ([]byte, error)
	Write(ctx context.Context, id, address byte, data []byte) error
	Close() error
}

// V2Bus is the Protocol 2.0 capability set. *dynamixel.BusV2 satisfies it.
type V2Bus interface {
	Ping(ctx context.Context, id byte) ([]dynamixel.PingResponse, error)
	Read(ctx context.Context, id byte, address, length uint16) ([]byte, error)
	Write(ctx context.Context, id byte, address uint16, data []byte) error
	Close() error
}

// Connector opens buses. Tests substitute fakes; SerialConnector opens real
// serial ports.
type Connector interface {
	ConnectV1(port string, baudrate int, timeout time.Duration) (V1Bus, error)
	ConnectV2(port string, baudrate int, timeout time.Duration) (V2Bus, error)
}

// Bus is an open bus of either protocol revision. Exactly one of v1 and v2
// is set, matching version.
type Bus struct {
	version Protocol
	v1      V1Bus
	v2      V2Bus
}

// Connect opens a bus for the given protocol. Failures to open are returned
// as *ConnectionError.
func Connect(c Connector, port string, protocol Protocol, baudrate int, timeout time.Duration) (*Bus, error) {
	switch protocol {
	case ProtocolV1:
		b, err := c.ConnectV1(port, baudrate, timeout)
		if err != nil {
			return nil, &ConnectionError{Port: port, Err: err}
		}
		return &Bus{version: ProtocolV1, v1: b}, nil
	case ProtocolV2:
		b, err := c.ConnectV2(port, baudrate, timeout)
		if err != nil {
			return nil, &ConnectionError{Port: port, Err: err}
		}
		return &Bus{version: ProtocolV2, v2: b}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, protocol)
	}
}

// Version returns the protocol revision the bus speaks.
func (b *Bus) Version() Protocol {
	return b.version
}

// Ping returns every device that answered at id. Protocol 1.0 devices report
// model number 0.
func (b *Bus) Ping(ctx context.Context, id uint8) ([]ServoInfo, error) {
	switch b.version {
	case ProtocolV1:
		ids, err := b.v1.Ping(ctx, id)
		if err != nil {
			return nil, err
		}
		found := make([]ServoInfo, 0, len(ids))
		for _, id := range ids {
			found = append(found, ServoInfo{ID: id})
		}
		return found, nil
	default:
		resps, err := b.v2.Ping(ctx, id)
		if err != nil {
			return nil, err
		}
		found := make([]ServoInfo, 0, len(resps))
		for _, r := range resps {
			found = append(found, ServoInfo{ID: r.ID, ModelNumber: r.ModelNumber})
		}
		return found, nil
	}
}

// Read returns the raw bytes of a field. Protocol 1.0 narrows the address
// and size to 8 bits.
func (b *Bus) Read(ctx context.Context, id uint8, field RegisterField) ([]byte, error) {
	switch b.version {
	case ProtocolV1:
		if field.Address > 0xFF || field.Size > 0xFF {
			return nil, fmt.Errorf("field %d+%d exceeds the protocol 1.0 address space", field.Address, field.Size)
		}
		return b.v1.Read(ctx, id, byte(field.Address), byte(field.Size))
	default:
		return b.v2.Read(ctx, id, field.Address, field.Size)
	}
}

// Write writes raw bytes starting at address.
func (b *Bus) Write(ctx context.Context, id uint8, address uint16, data []byte) error {
	switch b.version {
	case ProtocolV1:
		if address > 0xFF {
			return fmt.Errorf("address %d exceeds the protocol 1.0 address space", address)
		}
		return b.v1.Write(ctx, id, byte(address), data)
	default:
		return b.v2.Write(ctx, id, address, data)
	}
}

// Close releases the underlying port.
func (b *Bus) Close() error {
	if b.version == ProtocolV1 {
		return b.v1.Close()
	}
	return b.v2.Close()
}

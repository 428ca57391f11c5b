// Package dynamixel speaks Dynamixel Protocol 1.0 and 2.0 over a serial
// Transport.
package dynamixel

import (
	"errors"
	"fmt"
)

// Instruction codes shared by both protocol revisions.
const (
	InstPing  byte = 0x01
	InstRead  byte = 0x02
	InstWrite byte = 0x03
)

// Special ID values.
const (
	BroadcastID = 0xFE
	MaxServoID  = 0xFD
)

// Packet header bytes.
const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF
)

// errIncompletePacket marks a buffer that may still become a valid packet
// once more bytes arrive.
var errIncompletePacket = errors.New("incomplete packet")

// StatusError is the Protocol 1.0 status error bitfield.
type StatusError byte

const (
	ErrVoltage     StatusError = 1 << 0
	ErrAngleLimit  StatusError = 1 << 1
	ErrOverheat    StatusError = 1 << 2
	ErrRange       StatusError = 1 << 3
	ErrChecksum    StatusError = 1 << 4
	ErrOverload    StatusError = 1 << 5
	ErrInstruction StatusError = 1 << 6
)

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}

	var msgs []string
	if e&ErrVoltage != 0 {
		msgs = append(msgs, "voltage")
	}
	if e&ErrAngleLimit != 0 {
		msgs = append(msgs, "angle limit")
	}
	if e&ErrOverheat != 0 {
		msgs = append(msgs, "overheat")
	}
	if e&ErrRange != 0 {
		msgs = append(msgs, "range")
	}
	if e&ErrChecksum != 0 {
		msgs = append(msgs, "checksum")
	}
	if e&ErrOverload != 0 {
		msgs = append(msgs, "overload")
	}
	if e&ErrInstruction != 0 {
		msgs = append(msgs, "instruction")
	}

	return fmt.Sprintf("servo status error: %v", msgs)
}

// HasError returns true if any error flag is set.
func (e StatusError) HasError() bool {
	return e != 0
}

// Packet is a decoded instruction or status packet. Error holds the raw
// status error byte and is only meaningful for status packets.
type Packet struct {
	ID          byte
	Instruction byte
	Parameters  []byte
	Error       byte
}

// ProtocolV1 encodes and decodes Protocol 1.0 packets:
//
//	FF FF ID LEN INST PARAM... CHECKSUM
type ProtocolV1 struct{}

// Encode constructs a wire-format packet from the given components.
func (ProtocolV1) Encode(pkt Packet) []byte {
	length := byte(len(pkt.Parameters) + 2) // params + instruction + checksum

	buf := make([]byte, 0, 6+len(pkt.Parameters))
	buf = append(buf, headerByte1, headerByte2)
	buf = append(buf, pkt.ID)
	buf = append(buf, length)
	buf = append(buf, pkt.Instruction)
	buf = append(buf, pkt.Parameters...)
	buf = append(buf, checksumV1(buf[2:]))

	return buf
}

// Decode parses the first status packet in data, skipping leading garbage.
// It returns the packet and the number of bytes consumed.
func (ProtocolV1) Decode(data []byte) (Packet, int, error) {
	if len(data) < 6 {
		return Packet{}, 0, fmt.Errorf("%w: packet too short", errIncompletePacket)
	}

	headerIdx := -1
	for i := 0; i <= len(data)-6; i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 && data[i+2] != headerByte1 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return Packet{}, 0, fmt.Errorf("%w: header not found", errIncompletePacket)
	}

	data = data[headerIdx:]
	id := data[2]
	length := int(data[3])
	if length < 2 {
		return Packet{}, 0, fmt.Errorf("%w: length field %d", ErrInvalidPacket, length)
	}

	totalLen := 4 + length // header(2) + id(1) + length(1) + [length bytes]
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: need %d bytes, have %d", errIncompletePacket, totalLen, len(data))
	}

	expected := checksumV1(data[2 : totalLen-1])
	actual := data[totalLen-1]
	if expected != actual {
		return Packet{}, 0, fmt.Errorf("%w: checksum mismatch: expected 0x%02X, got 0x%02X", ErrInvalidPacket, expected, actual)
	}

	// Status format: [header][id][length][error][params...][checksum]
	pkt := Packet{
		ID:    id,
		Error: data[4],
	}

	paramLen := length - 2
	if paramLen > 0 {
		pkt.Parameters = make([]byte, paramLen)
		copy(pkt.Parameters, data[5:5+paramLen])
	}

	return pkt, headerIdx + totalLen, nil
}

// PingPacket creates a ping instruction packet.
func (p ProtocolV1) PingPacket(id byte) []byte {
	return p.Encode(Packet{ID: id, Instruction: InstPing})
}

// ReadPacket creates a read instruction packet.
func (p ProtocolV1) ReadPacket(id, address, length byte) []byte {
	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRead,
		Parameters:  []byte{address, length},
	})
}

// WritePacket creates a write instruction packet.
func (p ProtocolV1) WritePacket(id, address byte, data []byte) []byte {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstWrite,
		Parameters:  params,
	})
}

func checksumV1(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

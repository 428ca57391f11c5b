package dynamixel

import (
	"encoding/binary"
	"fmt"
)

// InstStatus is the instruction byte carried by every Protocol 2.0 status packet.
const InstStatus byte = 0x55

const (
	headerByte3 = 0xFD
	reserved    = 0x00

	// header(4) + id(1) + length(2)
	v2PrefixLen = 7
	// prefix + instruction(1) + crc(2)
	v2MinPacketLen = v2PrefixLen + 3
)

// StatusErrorV2 is the Protocol 2.0 error byte: bit 7 is the hardware alert
// flag, the low seven bits carry an error number.
type StatusErrorV2 byte

const alertBit StatusErrorV2 = 0x80

// Protocol 2.0 error numbers.
const (
	StatusResultFail  StatusErrorV2 = 0x01
	StatusInstruction StatusErrorV2 = 0x02
	StatusCRC         StatusErrorV2 = 0x03
	StatusDataRange   StatusErrorV2 = 0x04
	StatusDataLength  StatusErrorV2 = 0x05
	StatusDataLimit   StatusErrorV2 = 0x06
	StatusAccess      StatusErrorV2 = 0x07
)

// Number returns the error number without the alert flag.
func (e StatusErrorV2) Number() StatusErrorV2 {
	return e &^ alertBit
}

// Alert reports whether the device flagged a hardware error.
func (e StatusErrorV2) Alert() bool {
	return e&alertBit != 0
}

// HasError returns true if the instruction failed. A bare alert flag does not
// count as a failure; the instruction itself was processed.
func (e StatusErrorV2) HasError() bool {
	return e.Number() != 0
}

func (e StatusErrorV2) Error() string {
	var msg string
	switch e.Number() {
	case 0:
		msg = "no error"
	case StatusResultFail:
		msg = "result fail"
	case StatusInstruction:
		msg = "instruction error"
	case StatusCRC:
		msg = "crc error"
	case StatusDataRange:
		msg = "data range error"
	case StatusDataLength:
		msg = "data length error"
	case StatusDataLimit:
		msg = "data limit error"
	case StatusAccess:
		msg = "access error"
	default:
		msg = fmt.Sprintf("unknown error 0x%02X", byte(e.Number()))
	}
	if e.Alert() {
		msg += " (hardware alert)"
	}
	return "servo status error: " + msg
}

// ProtocolV2 encodes and decodes Protocol 2.0 packets:
//
//	FF FF FD 00 ID LEN_L LEN_H INST PARAM... CRC_L CRC_H
//
// Instruction and parameters are byte-stuffed so that the header sequence
// never appears inside a packet body.
type ProtocolV2 struct{}

// Encode constructs a wire-format packet from the given components.
func (ProtocolV2) Encode(pkt Packet) []byte {
	body := make([]byte, 0, 1+len(pkt.Parameters))
	body = append(body, pkt.Instruction)
	if pkt.Instruction == InstStatus {
		body = append(body, pkt.Error)
	}
	body = append(body, pkt.Parameters...)
	body = stuff(body)

	length := uint16(len(body) + 2) // body + crc

	buf := make([]byte, 0, v2PrefixLen+len(body)+2)
	buf = append(buf, headerByte1, headerByte2, headerByte3, reserved, pkt.ID)
	buf = binary.LittleEndian.AppendUint16(buf, length)
	buf = append(buf, body...)
	buf = binary.LittleEndian.AppendUint16(buf, crc16(buf))

	return buf
}

// Decode parses the first packet in data, skipping leading garbage. It
// returns the packet and the number of bytes consumed.
func (ProtocolV2) Decode(data []byte) (Packet, int, error) {
	if len(data) < v2MinPacketLen {
		return Packet{}, 0, fmt.Errorf("%w: packet too short", errIncompletePacket)
	}

	headerIdx := -1
	for i := 0; i <= len(data)-4; i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 && data[i+2] == headerByte3 && data[i+3] == reserved {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return Packet{}, 0, fmt.Errorf("%w: header not found", errIncompletePacket)
	}

	data = data[headerIdx:]
	if len(data) < v2MinPacketLen {
		return Packet{}, 0, fmt.Errorf("%w: packet too short after header", errIncompletePacket)
	}

	length := int(binary.LittleEndian.Uint16(data[5:7]))
	if length < 3 {
		return Packet{}, 0, fmt.Errorf("%w: length field %d", ErrInvalidPacket, length)
	}

	totalLen := v2PrefixLen + length
	if len(data) < totalLen {
		return Packet{}, 0, fmt.Errorf("%w: need %d bytes, have %d", errIncompletePacket, totalLen, len(data))
	}

	expected := crc16(data[:totalLen-2])
	actual := binary.LittleEndian.Uint16(data[totalLen-2 : totalLen])
	if expected != actual {
		return Packet{}, 0, fmt.Errorf("%w: crc mismatch: expected 0x%04X, got 0x%04X", ErrInvalidPacket, expected, actual)
	}

	body := unstuff(data[v2PrefixLen : totalLen-2])
	pkt := Packet{
		ID:          data[4],
		Instruction: body[0],
	}

	params := body[1:]
	if pkt.Instruction == InstStatus {
		if len(params) < 1 {
			return Packet{}, 0, fmt.Errorf("%w: status packet without error byte", ErrInvalidPacket)
		}
		pkt.Error = params[0]
		params = params[1:]
	}
	if len(params) > 0 {
		pkt.Parameters = make([]byte, len(params))
		copy(pkt.Parameters, params)
	}

	return pkt, headerIdx + totalLen, nil
}

// PingPacket creates a ping instruction packet.
func (p ProtocolV2) PingPacket(id byte) []byte {
	return p.Encode(Packet{ID: id, Instruction: InstPing})
}

// ReadPacket creates a read instruction packet.
func (p ProtocolV2) ReadPacket(id byte, address, length uint16) []byte {
	params := binary.LittleEndian.AppendUint16(nil, address)
	params = binary.LittleEndian.AppendUint16(params, length)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstRead,
		Parameters:  params,
	})
}

// WritePacket creates a write instruction packet.
func (p ProtocolV2) WritePacket(id byte, address uint16, data []byte) []byte {
	params := binary.LittleEndian.AppendUint16(make([]byte, 0, 2+len(data)), address)
	params = append(params, data...)

	return p.Encode(Packet{
		ID:          id,
		Instruction: InstWrite,
		Parameters:  params,
	})
}

// stuff inserts 0xFD after every FF FF FD run.
func stuff(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(body)/3)
	for i, b := range body {
		out = append(out, b)
		if b == headerByte3 && i >= 2 && body[i-1] == headerByte2 && body[i-2] == headerByte1 {
			out = append(out, headerByte3)
		}
	}
	return out
}

// unstuff removes the 0xFD inserted by stuff.
func unstuff(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		out = append(out, body[i])
		if body[i] == headerByte3 && i >= 2 && body[i-1] == headerByte2 && body[i-2] == headerByte1 &&
			i+1 < len(body) && body[i+1] == headerByte3 {
			i++
		}
	}
	return out
}

// crc16 is CRC-16/BUYPASS (poly 0x8005, init 0, no reflection).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

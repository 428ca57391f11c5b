package dynamixel

import "encoding/binary"

// DecodeValue converts a little-endian control table value to int64.
//
// One-byte values are unsigned. Two- and four-byte values are two's
// complement and sign-extended. Any other width is assembled as an unsigned
// little-endian integer, so an empty slice yields 0.
func DecodeValue(data []byte) int64 {
	switch len(data) {
	case 1:
		return int64(data[0])
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(data)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(data)))
	}

	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return int64(v)
}

// EncodeValue is the inverse of DecodeValue for a field of the given width.
func EncodeValue(value int64, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(value >> (8 * i))
	}
	return buf
}

// Package encoding provides the binary primitives shared by the container
// format, sstables, and the manifest: fixed-width little-endian integers and
// unsigned LEB128 varints.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarintLen64 is the maximum number of bytes a varint can occupy: 10 bytes
// hold the 64-bit range at 7 data bits per byte (ceil(64/7) == 10).
const MaxVarintLen64 = 10

// ErrMalformedVarint is returned when a varint's 10th byte still carries the
// continuation bit, or the buffer ends before a continuation byte is resolved.
var ErrMalformedVarint = errors.New("encoding: malformed varint")

// EncodeFixed64 writes a little-endian uint64 into dst.
// REQUIRES: len(dst) >= 8.
func EncodeFixed64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

// DecodeFixed64 reads a little-endian uint64 from src.
// REQUIRES: len(src) >= 8.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// EncodeFixed32 writes a little-endian uint32 into dst.
// REQUIRES: len(dst) >= 4.
func EncodeFixed32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

// AppendFixed32 appends a little-endian uint32 to dst.
func AppendFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// DecodeFixed32 reads a little-endian uint32 from src.
// REQUIRES: len(src) >= 4.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// AppendFixed64 appends a little-endian uint64 to dst.
func AppendFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// AppendVarint appends v to dst using unsigned LEB128: 7 data bits per byte,
// MSB set means "more bytes follow".
func AppendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// SizeVarint returns the number of bytes AppendVarint would write for v.
func SizeVarint(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// GetVarint decodes a varint from the front of src, returning the value and
// the number of bytes consumed. A zero-length return with ErrMalformedVarint
// means the stream ended mid-varint or the 10th byte still had its
// continuation bit set.
func GetVarint(src []byte) (value uint64, n int, err error) {
	var shift uint
	for i := 0; i < len(src); i++ {
		b := src[i]
		if i == MaxVarintLen64-1 && b >= 0x80 {
			return 0, 0, ErrMalformedVarint
		}
		value |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformedVarint
}

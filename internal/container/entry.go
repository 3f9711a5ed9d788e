package container

import (
	"github.com/browserdb/storageengine/internal/checksum"
	"github.com/browserdb/storageengine/internal/encoding"
)

// EntryKind distinguishes a live value from a tombstone within the entry
// stream (spec §3: "a deletion is represented by an explicit tombstone
// entry, not by the entry's absence").
type EntryKind uint8

const (
	EntryPut       EntryKind = 1
	EntryTombstone EntryKind = 2
)

// Entry is one record of the container's entry stream: a key, its kind, the
// sequence number that ordered it among concurrent writers, and its value
// (empty for a tombstone).
type Entry struct {
	Kind      EntryKind
	Sequence  uint64
	Key       []byte
	Value     []byte
}

// AppendEntry serializes e onto dst and returns the extended slice. The
// layout is: kind(1) | sequence(varint) | key_len(varint) | key | value_len
// (varint) | value | entry_crc32(fixed32), where entry_crc32 covers every
// byte written before it.
func AppendEntry(dst []byte, e Entry) []byte {
	start := len(dst)
	dst = append(dst, byte(e.Kind))
	dst = encoding.AppendVarint(dst, e.Sequence)
	dst = encoding.AppendVarint(dst, uint64(len(e.Key)))
	dst = append(dst, e.Key...)
	dst = encoding.AppendVarint(dst, uint64(len(e.Value)))
	dst = append(dst, e.Value...)
	crc := checksum.Value(dst[start:])
	dst = encoding.AppendFixed32(dst, crc)
	return dst
}

// EncodedLen returns the number of bytes AppendEntry would add for e.
func EncodedLen(e Entry) int {
	return 1 + encoding.SizeVarint(e.Sequence) + encoding.SizeVarint(uint64(len(e.Key))) + len(e.Key) +
		encoding.SizeVarint(uint64(len(e.Value))) + len(e.Value) + 4
}

// ReadEntry decodes one entry from the front of src, verifying its CRC.
// It returns the entry, the number of bytes consumed, and an error: a
// *CorruptError on CRC mismatch, or a malformed-varint/truncation error if
// the stream ends mid-entry. The caller of a repair scan treats any error
// here as "stop, the entry stream ends at this offset".
func ReadEntry(src []byte) (Entry, int, error) {
	if len(src) < 1 {
		return Entry{}, 0, errCorrupt("entry stream truncated before kind byte")
	}
	var e Entry
	e.Kind = EntryKind(src[0])
	off := 1

	seq, n, err := encoding.GetVarint(src[off:])
	if err != nil {
		return Entry{}, 0, err
	}
	e.Sequence = seq
	off += n

	keyLen, n, err := encoding.GetVarint(src[off:])
	if err != nil {
		return Entry{}, 0, err
	}
	off += n
	if off+int(keyLen) > len(src) {
		return Entry{}, 0, errCorrupt("entry key truncated")
	}
	e.Key = src[off : off+int(keyLen)]
	off += int(keyLen)

	valLen, n, err := encoding.GetVarint(src[off:])
	if err != nil {
		return Entry{}, 0, err
	}
	off += n
	if off+int(valLen) > len(src) {
		return Entry{}, 0, errCorrupt("entry value truncated")
	}
	e.Value = src[off : off+int(valLen)]
	off += int(valLen)

	if off+4 > len(src) {
		return Entry{}, 0, errCorrupt("entry crc truncated")
	}
	wantCRC := checksum.Value(src[0:off])
	gotCRC := encoding.DecodeFixed32(src[off : off+4])
	if wantCRC != gotCRC {
		return Entry{}, 0, errCorrupt("entry crc mismatch")
	}
	off += 4

	return e, off, nil
}

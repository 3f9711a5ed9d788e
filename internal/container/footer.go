package container

import (
	"github.com/browserdb/storageengine/internal/encoding"
)

// IndexEntry is one entry of the footer's sparse index: the key at which a
// data-stream offset begins, used to binary-search into the entry stream
// without scanning it from the start (spec §4.4 "sparse index").
type IndexEntry struct {
	Key    []byte
	Offset uint64 // byte offset from the start of the entry stream
}

// Footer is the variable-length trailer of a .bdb file: an optional bloom
// filter, an optional sparse index, the key range covered by the file, the
// total size of the entry stream, and a whole-file CRC.
type Footer struct {
	Bloom          []byte // nil if FlagHasBloom is unset
	Index          []IndexEntry
	MinKey, MaxKey []byte
	TotalDataBytes uint64
	FileCRC32      uint32
}

// Encode serializes f. Layout: bloom_len varint | bloom | index_count
// varint | (key_len varint | key | offset varint)* | min_key_len varint |
// min_key | max_key_len varint | max_key | total_data_bytes varint |
// file_crc32 fixed32.
func (f Footer) Encode() []byte {
	var dst []byte
	dst = encoding.AppendVarint(dst, uint64(len(f.Bloom)))
	dst = append(dst, f.Bloom...)

	dst = encoding.AppendVarint(dst, uint64(len(f.Index)))
	for _, e := range f.Index {
		dst = encoding.AppendVarint(dst, uint64(len(e.Key)))
		dst = append(dst, e.Key...)
		dst = encoding.AppendVarint(dst, e.Offset)
	}

	dst = encoding.AppendVarint(dst, uint64(len(f.MinKey)))
	dst = append(dst, f.MinKey...)
	dst = encoding.AppendVarint(dst, uint64(len(f.MaxKey)))
	dst = append(dst, f.MaxKey...)

	dst = encoding.AppendVarint(dst, f.TotalDataBytes)
	dst = encoding.AppendFixed32(dst, f.FileCRC32)
	return dst
}

// ParseFooter decodes a footer previously written by Encode. The caller is
// responsible for verifying FileCRC32 against the actual header+entry-stream
// bytes; ParseFooter only checks structural well-formedness.
func ParseFooter(src []byte) (Footer, error) {
	var f Footer
	rest := src

	bloomLen, n, err := encoding.GetVarint(rest)
	if err != nil {
		return f, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < bloomLen {
		return f, errCorrupt("footer bloom truncated")
	}
	if bloomLen > 0 {
		f.Bloom = rest[:bloomLen]
	}
	rest = rest[bloomLen:]

	count, n, err := encoding.GetVarint(rest)
	if err != nil {
		return f, err
	}
	rest = rest[n:]
	if count > 0 {
		f.Index = make([]IndexEntry, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		keyLen, n, err := encoding.GetVarint(rest)
		if err != nil {
			return f, err
		}
		rest = rest[n:]
		if uint64(len(rest)) < keyLen {
			return f, errCorrupt("footer index key truncated")
		}
		key := rest[:keyLen]
		rest = rest[keyLen:]
		offset, n, err := encoding.GetVarint(rest)
		if err != nil {
			return f, err
		}
		rest = rest[n:]
		f.Index = append(f.Index, IndexEntry{Key: key, Offset: offset})
	}

	minLen, n, err := encoding.GetVarint(rest)
	if err != nil {
		return f, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < minLen {
		return f, errCorrupt("footer min_key truncated")
	}
	f.MinKey = rest[:minLen]
	rest = rest[minLen:]

	maxLen, n, err := encoding.GetVarint(rest)
	if err != nil {
		return f, err
	}
	rest = rest[n:]
	if uint64(len(rest)) < maxLen {
		return f, errCorrupt("footer max_key truncated")
	}
	f.MaxKey = rest[:maxLen]
	rest = rest[maxLen:]

	total, n, err := encoding.GetVarint(rest)
	if err != nil {
		return f, err
	}
	rest = rest[n:]
	f.TotalDataBytes = total

	if len(rest) < 4 {
		return f, errCorrupt("footer file_crc32 truncated")
	}
	f.FileCRC32 = encoding.DecodeFixed32(rest[:4])

	return f, nil
}

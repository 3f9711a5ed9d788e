package container

import (
	"bytes"

	"github.com/browserdb/storageengine/internal/dbformat"
)

// Repair rebuilds a minimal, valid .bdb file from whatever prefix of raw's
// entry stream is intact, per spec §4.3's repair contract: scan entries
// sequentially from the start, stop at the first one that fails its CRC or
// can't be parsed, and keep everything before it. The rebuilt footer carries
// no bloom filter or sparse index — a repaired table is a plain sorted run
// until the next compaction rewrites it with full metadata.
//
// Repair never fails: a header that itself doesn't parse yields a
// zero-entry file, since there is nothing salvageable.
func Repair(raw []byte) (repaired []byte, entriesKept int) {
	if len(raw) < HeaderSize {
		return emptyFile(), 0
	}
	h, err := ParseHeader(raw[:HeaderSize])
	if err != nil {
		return emptyFile(), 0
	}

	dataStart := int(h.DataOffset)
	if dataStart > len(raw) {
		dataStart = len(raw)
	}
	streamEnd := len(raw)
	if h.FooterOffset <= uint64(len(raw)) && h.FooterOffset >= uint64(dataStart) {
		streamEnd = int(h.FooterOffset)
	}

	w := NewWriter(h.Kind)
	off := dataStart
	var prevKey []byte
	for off < streamEnd {
		e, n, err := ReadEntry(raw[off:streamEnd])
		if err != nil {
			break
		}
		if prevKey != nil && keyOrder(h.Kind, prevKey, e.Key) >= 0 {
			// Ascending-order invariant violated (spec §4.3): the bytes
			// parse and checksum fine but a torn rewrite left a regression
			// in key order. Stop here, same as a CRC failure.
			break
		}
		w.Add(Entry{Kind: e.Kind, Sequence: e.Sequence, Key: append([]byte(nil), e.Key...), Value: append([]byte(nil), e.Value...)})
		prevKey = append([]byte(nil), e.Key...)
		off += n
	}

	return w.Finish(FinishOptions{CreatedMS: h.CreatedMS}), int(w.Count())
}

// keyOrder compares two successive entry keys in the order the ascending-
// order invariant expects for this file's kind. SSTable keys are internal
// keys (user key || trailer): equal user keys legitimately repeat across
// entries with descending sequence, which dbformat.Compare accounts for.
// Every other kind (manifest/snapshot) stores plain keys with no trailer,
// so a strict byte-wise compare is the right ascending check.
func keyOrder(kind Kind, prev, next []byte) int {
	if kind == KindSSTable {
		return dbformat.Compare(dbformat.InternalKey(prev), dbformat.InternalKey(next))
	}
	return bytes.Compare(prev, next)
}

func emptyFile() []byte {
	w := NewWriter(KindSSTable)
	return w.Finish(FinishOptions{})
}

// VerifyStreamPrefix reports how many whole entries at the front of stream
// parse and checksum cleanly, without requiring a full File. Used by the
// repair path to decide whether a table needs rebuilding before consulting
// Repair's more expensive full rewrite.
func VerifyStreamPrefix(stream []byte) (valid bool, goodBytes int) {
	off := 0
	for off < len(stream) {
		_, n, err := ReadEntry(stream[off:])
		if err != nil {
			return false, off
		}
		off += n
	}
	return true, off
}

package container

import "github.com/browserdb/storageengine/internal/checksum"

// Writer accumulates entries into a .bdb file's entry stream. It does not
// sort or deduplicate; callers (the sstable builder, the manifest writer)
// control entry order.
type Writer struct {
	kind    Kind
	stream  []byte
	count   uint64
	minKey  []byte
	maxKey  []byte
}

// NewWriter returns a Writer for a file of the given kind.
func NewWriter(kind Kind) *Writer {
	return &Writer{kind: kind}
}

// Add appends e to the entry stream, tracking the running min/max key for
// the footer. Callers that need strictly ascending key order (sstables)
// enforce it themselves before calling Add.
func (w *Writer) Add(e Entry) {
	w.stream = AppendEntry(w.stream, e)
	w.count++
	if w.minKey == nil || string(e.Key) < string(w.minKey) {
		w.minKey = append([]byte(nil), e.Key...)
	}
	if w.maxKey == nil || string(e.Key) > string(w.maxKey) {
		w.maxKey = append([]byte(nil), e.Key...)
	}
}

// Count returns the number of entries added so far.
func (w *Writer) Count() uint64 { return w.count }

// StreamBytes returns the entry stream accumulated so far. The returned
// slice must not be retained past the next Add call.
func (w *Writer) StreamBytes() []byte { return w.stream }

// FinishOptions carries the pieces of the footer that only the caller knows
// how to build (a bloom filter over the keys added, a sparse index, whether
// values were compressed).
type FinishOptions struct {
	CreatedMS  int64
	Bloom      []byte // pre-encoded bloom bytes (filter.Filter.Encode()), or nil
	Index      []IndexEntry
	Compressed bool
}

// Finish assembles the complete file: header, entry stream, footer. The
// header's EntryCount, DataOffset and FooterOffset are computed from what
// was actually written, so a caller never hand-maintains them.
func (w *Writer) Finish(opts FinishOptions) []byte {
	var flags byte
	if opts.Compressed {
		flags |= FlagCompressed
	}
	if len(opts.Bloom) > 0 {
		flags |= FlagHasBloom
	}
	if len(opts.Index) > 0 {
		flags |= FlagHasIndex
	}

	h := Header{
		Version:      Version,
		Kind:         w.kind,
		Flags:        flags,
		CreatedMS:    opts.CreatedMS,
		EntryCount:   w.count,
		DataOffset:   HeaderSize,
		FooterOffset: uint64(HeaderSize + len(w.stream)),
	}
	headerBytes := h.Encode()

	footer := Footer{
		Bloom:          opts.Bloom,
		Index:          opts.Index,
		MinKey:         w.minKey,
		MaxKey:         w.maxKey,
		TotalDataBytes: uint64(len(w.stream)),
	}
	// file_crc32 covers header bytes minus its own trailing CRC, plus the
	// entire entry stream (spec §4.3 serialization invariants).
	crc := checksum.Value(headerBytes[0 : HeaderSize-4])
	crc = checksum.Extend(crc, w.stream)
	footer.FileCRC32 = crc
	footerBytes := footer.Encode()

	out := make([]byte, 0, len(headerBytes)+len(w.stream)+len(footerBytes))
	out = append(out, headerBytes...)
	out = append(out, w.stream...)
	out = append(out, footerBytes...)
	return out
}

package container

import "github.com/browserdb/storageengine/internal/checksum"

// File is a validated, fully-loaded .bdb file: header, footer, and the raw
// bytes of its entry stream. Validation runs once in Open; everything
// returned afterwards is assumed sound.
type File struct {
	Header Header
	Footer Footer

	stream []byte // the entry stream, raw[Header.DataOffset:Header.FooterOffset]
}

// Open validates raw (the complete contents of a .bdb file) and returns a
// File positioned to read it. It performs validation steps (a)-(g) from
// spec §4.3:
//
//	(a) magic matches      (b) version is supported
//	(c) header CRC matches (d) footer_offset falls within the file
//	(e) footer parses      (f) file CRC matches
//	(g) header's entry_count matches the entries actually present
//
// A failure is returned as a *CorruptError (a file too short to hold a
// header included; a malformed varint in the footer surfaces as the
// encoding package's own error instead), and the caller is expected to
// route it to repair or quarantine rather than retry.
func Open(raw []byte) (*File, error) {
	if len(raw) < HeaderSize {
		return nil, errCorrupt("file shorter than header")
	}
	h, err := ParseHeader(raw[:HeaderSize])
	if err != nil {
		return nil, err
	}

	if h.FooterOffset < uint64(h.DataOffset) || h.FooterOffset > uint64(len(raw)) {
		return nil, errCorrupt("footer_offset out of range")
	}

	stream := raw[h.DataOffset:h.FooterOffset]
	footer, err := ParseFooter(raw[h.FooterOffset:])
	if err != nil {
		return nil, err
	}

	crc := checksum.Value(raw[0 : HeaderSize-4])
	crc = checksum.Extend(crc, stream)
	if crc != footer.FileCRC32 {
		return nil, errCorrupt("file CRC mismatch")
	}

	f := &File{Header: h, Footer: footer, stream: stream}
	if n, err := f.countEntries(); err != nil {
		return nil, err
	} else if uint64(n) != h.EntryCount {
		return nil, errCorrupt("entry_count mismatch")
	}

	return f, nil
}

func (f *File) countEntries() (int, error) {
	n := 0
	off := 0
	for off < len(f.stream) {
		_, consumed, err := ReadEntry(f.stream[off:])
		if err != nil {
			return 0, err
		}
		off += consumed
		n++
	}
	return n, nil
}

// Cursor iterates the entry stream from a given byte offset forward.
type Cursor struct {
	stream []byte
	off    int
}

// NewCursor returns a Cursor starting at streamOffset, a value taken from a
// Footer.Index entry (or 0, to start at the beginning of the stream).
func (f *File) NewCursor(streamOffset uint64) *Cursor {
	return &Cursor{stream: f.stream, off: int(streamOffset)}
}

// Next returns the next entry and advances the cursor. ok is false once the
// stream is exhausted.
func (c *Cursor) Next() (e Entry, ok bool, err error) {
	if c.off >= len(c.stream) {
		return Entry{}, false, nil
	}
	e, n, err := ReadEntry(c.stream[c.off:])
	if err != nil {
		return Entry{}, false, err
	}
	c.off += n
	return e, true, nil
}

// StreamLen returns the size in bytes of the entry stream.
func (f *File) StreamLen() int { return len(f.stream) }

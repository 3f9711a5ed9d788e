// Package sstable implements the sorted table (C5): an immutable, on-disk
// run of internal-key-ordered records backed by the .bdb container format,
// with a bloom filter and sparse index for fast point lookups.
package sstable

import (
	"fmt"
	"os"

	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/filter"
)

// Table is an opened, validated sorted table: its container file, decoded
// bloom filter, and the metadata the engine's level bookkeeping needs.
type Table struct {
	Generation uint64
	Level      int
	Path       string

	MinKey, MaxKey []byte
	ByteSize       int64
	// MaxSeq is the highest sequence number stored in the table, used on
	// open to restore the engine's sequence counter, including when the
	// manifest is missing (spec §4.9 point 2).
	MaxSeq dbformat.SequenceNumber

	file  *container.File
	bloom *filter.Filter
}

// Open loads and validates the sorted table at path. A *container.CorruptError
// is returned unchanged, so a caller can tell a damaged file apart from a
// generic I/O fault.
func Open(path string, generation uint64, level int) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: read %s: %w", path, err)
	}
	f, err := container.Open(raw)
	if err != nil {
		return nil, err
	}
	if f.Header.Kind != container.KindSSTable {
		return nil, fmt.Errorf("sstable: %s is not a sstable container (kind=%d)", path, f.Header.Kind)
	}

	var bloom *filter.Filter
	if len(f.Footer.Bloom) > 0 {
		bloom, err = filter.Decode(f.Footer.Bloom)
		if err != nil {
			return nil, fmt.Errorf("sstable: %s: decode bloom filter: %w", path, err)
		}
	}

	t := &Table{
		Generation: generation,
		Level:      level,
		Path:       path,
		// The footer stores the first/last internal keys written (user key
		// plus trailer); every caller compares against plain user keys, so
		// strip the trailer here once rather than at every call site.
		MinKey:   dbformat.InternalKey(f.Footer.MinKey).UserKey(),
		MaxKey:   dbformat.InternalKey(f.Footer.MaxKey).UserKey(),
		ByteSize: int64(len(raw)),
		file:     f,
		bloom:    bloom,
	}

	cur := f.NewCursor(0)
	for {
		e, ok, err := cur.Next()
		if err != nil {
			return nil, fmt.Errorf("sstable: %s: %w", path, err)
		}
		if !ok {
			break
		}
		if seq := dbformat.SequenceNumber(e.Sequence); seq > t.MaxSeq {
			t.MaxSeq = seq
		}
	}

	return t, nil
}

// Overlaps reports whether [lo, hi) intersects the table's key range. A nil
// lo or hi means unbounded on that side.
func (t *Table) Overlaps(lo, hi []byte) bool {
	if hi != nil && dbformat.UserKeyCompare(t.MinKey, hi) >= 0 {
		return false
	}
	if lo != nil && dbformat.UserKeyCompare(t.MaxKey, lo) < 0 {
		return false
	}
	return true
}

// MayContain reports whether key could be present, consulting the bloom
// filter. A false result is definitive; true may still be a miss on disk.
func (t *Table) MayContain(key []byte) bool {
	if t.bloom == nil {
		return true
	}
	return t.bloom.Contains(key)
}

// EntryCount returns the number of records (puts and tombstones) in the table.
func (t *Table) EntryCount() uint64 { return t.file.Header.EntryCount }

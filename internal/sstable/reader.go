package sstable

import (
	"fmt"
	"sort"

	"github.com/browserdb/storageengine/internal/compression"
	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
)

// Get looks up the highest-sequence record for userKey in this table.
// status mirrors memtable.Status: Found, Tombstone, or Absent. decompress
// selects the algorithm used to store values (the engine's current
// configuration; see internal/compression's note on why the algorithm
// travels out of band rather than per-file).
func (t *Table) Get(userKey []byte, decompress compression.Algo) (value []byte, status LookupStatus, err error) {
	if !t.MayContain(userKey) {
		return nil, Absent, nil
	}
	if dbformat.UserKeyCompare(userKey, t.MinKey) < 0 || dbformat.UserKeyCompare(userKey, t.MaxKey) > 0 {
		return nil, Absent, nil
	}

	offset := t.indexFloorOffset(userKey)
	cur := t.file.NewCursor(offset)

	for i := 0; i < indexScanCap(t.file.Header.EntryCount); i++ {
		e, ok, err := cur.Next()
		if err != nil {
			return nil, Absent, fmt.Errorf("sstable: %s: %w", t.Path, err)
		}
		if !ok {
			break
		}
		c := dbformat.UserKeyCompare(dbformat.InternalKey(e.Key).UserKey(), userKey)
		if c > 0 {
			// Entries are strictly ascending; once we've passed userKey
			// without a match, it isn't in the table.
			break
		}
		if c < 0 {
			continue
		}
		// First match for this user key carries the highest sequence,
		// because entries within a table are written in descending
		// sequence order for equal user keys (dbformat.Compare's tie-break).
		if e.Kind == container.EntryTombstone {
			return nil, Tombstone, nil
		}
		v, err := decompressValue(e.Value, decompress)
		if err != nil {
			return nil, Absent, fmt.Errorf("sstable: %s: decompress value for key %q: %w", t.Path, userKey, err)
		}
		return v, Found, nil
	}

	return nil, Absent, nil
}

// LookupStatus mirrors memtable.Status without introducing a dependency
// from sstable on the memtable package.
type LookupStatus int

const (
	Absent LookupStatus = iota
	Found
	Tombstone
)

// indexFloorOffset returns the stream offset of the last sparse index entry
// that sorts before userKey, or 0 if there is none. Index keys are internal
// keys (user key plus trailer), so an index entry whose user key equals
// userKey compares greater and is not chosen; the scan then starts at the
// preceding index point and still reaches that key's newest record.
func (t *Table) indexFloorOffset(userKey []byte) uint64 {
	idx := t.file.Footer.Index
	if len(idx) == 0 {
		return 0
	}
	i := sort.Search(len(idx), func(i int) bool {
		return dbformat.UserKeyCompare(idx[i].Key, userKey) > 0
	})
	if i == 0 {
		return 0
	}
	return idx[i-1].Offset
}

// indexScanCap bounds the sequential scan following an index hit: every
// entry (plus one) of a table holding fewer than 4096 entries, and 4096
// entries otherwise. It does not depend on the table's index stride.
func indexScanCap(entryCount uint64) int {
	const maxStride = 4096 // generous upper bound; actual stride is far smaller
	if entryCount < maxStride {
		return int(entryCount) + 1
	}
	return maxStride
}

func decompressValue(stored []byte, algo compression.Algo) ([]byte, error) {
	if algo == compression.None || len(stored) == 0 {
		return stored, nil
	}
	return compression.Decompress(algo, stored, -1)
}

// Iterator walks a table's entries in ascending internal-key order, for use
// by the range-read merging iterator (spec §4.9).
type Iterator struct {
	file       *container.File
	cur        *container.Cursor
	decompress compression.Algo

	key     dbformat.InternalKey
	value   []byte
	kind    container.EntryKind
	valid   bool
	err     error
}

// NewIterator returns an Iterator over the whole table.
func (t *Table) NewIterator(decompress compression.Algo) *Iterator {
	return &Iterator{file: t.file, cur: t.file.NewCursor(0), decompress: decompress}
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.cur, it.err = it.file.NewCursor(0), nil
	it.Next()
}

// Seek positions the iterator at the first entry with user key >= target,
// scanning from the start of the table.
func (it *Iterator) Seek(target []byte) {
	it.cur, it.err = it.file.NewCursor(0), nil
	for it.Next(); it.valid; it.Next() {
		if dbformat.UserKeyCompare(it.key.UserKey(), target) >= 0 {
			return
		}
	}
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	e, ok, err := it.cur.Next()
	if err != nil {
		it.valid, it.err = false, err
		return
	}
	if !ok {
		it.valid = false
		return
	}
	it.key = append(dbformat.InternalKey(nil), e.Key...)
	it.kind = e.Kind
	if e.Kind == container.EntryTombstone {
		it.value = nil
	} else {
		v, derr := decompressValue(e.Value, it.decompress)
		if derr != nil {
			it.valid, it.err = false, derr
			return
		}
		it.value = v
	}
	it.valid = true
}

func (it *Iterator) Valid() bool               { return it.valid }
func (it *Iterator) Key() dbformat.InternalKey { return it.key }
func (it *Iterator) Value() []byte             { return it.value }
func (it *Iterator) Err() error                { return it.err }
func (it *Iterator) IsTombstone() bool         { return it.kind == container.EntryTombstone }

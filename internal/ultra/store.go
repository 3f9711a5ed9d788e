// Package ultra implements the ultra-mode façade (C10): a bounded, entirely
// in-memory key/value map with least-recently-used eviction and no
// durability or compaction. Point and range reads follow the exact contract
// of the persistent engine's read path (spec §4.10), so Engine and Store can
// be swapped by the mode-switch coordinator without the caller noticing.
//
// The recency bookkeeping is the teacher's internal/cache.LRUCache
// (container/list plus a map) generalized from a byte-charged block cache to
// a byte-charged key/value map; the ordered index needed for Range is a
// google/btree.BTree, the ordered-map library the retrieval pack's
// perkeep-perkeep module pulls in for exactly this kind of sorted lookup.
package ultra

import (
	"bytes"
	"container/list"
	"sort"
	"sync"

	"github.com/google/btree"
)

// Stats summarizes the store's current state for diagnostics (spec §4.8
// `stats`, applied to the ultra backing).
type Stats struct {
	UsedBytes int64
	MaxBytes  int64
	KeyCount  int
}

// entry is both the btree item (ordered by key) and the recency-list
// payload. elem is nil only for the throwaway probe entries built for
// lookups and for the copies a Range snapshot holds.
type entry struct {
	key   []byte
	value []byte
	elem  *list.Element
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

func entryCharge(key, value []byte) int64 {
	return int64(len(key) + len(value))
}

// Store is a bounded in-memory key/value map with LRU eviction.
type Store struct {
	mu      sync.Mutex
	roCond  *sync.Cond
	readOnly bool

	maxBytes  int64
	usedBytes int64

	index   *btree.BTree // ordered by key, for Range
	recency *list.List   // front = most recently used
}

// New returns a Store that evicts entries once usedBytes would exceed
// maxBytes.
func New(maxBytes int64) *Store {
	s := &Store{
		maxBytes: maxBytes,
		index:    btree.New(32),
		recency:  list.New(),
	}
	s.roCond = sync.NewCond(&s.mu)
	return s
}

// SetReadOnly toggles write-queueing for the mode-switch coordinator's
// Prepare phase (spec §4.11 point 2): while read-only, Put and Delete block
// until it is cleared rather than erroring.
func (s *Store) SetReadOnly(ro bool) {
	s.mu.Lock()
	s.readOnly = ro
	s.mu.Unlock()
	if !ro {
		s.roCond.Broadcast()
	}
}

// Put inserts or overwrites key, evicting least-recently-used entries until
// the store fits within maxBytes (spec §4.10).
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readOnly {
		s.roCond.Wait()
	}

	if existing := s.index.Get(&entry{key: key}); existing != nil {
		e := existing.(*entry)
		s.usedBytes -= entryCharge(e.key, e.value)
		e.value = append([]byte(nil), value...)
		s.usedBytes += entryCharge(e.key, e.value)
		s.recency.MoveToFront(e.elem)
	} else {
		e := &entry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
		e.elem = s.recency.PushFront(e)
		s.index.ReplaceOrInsert(e)
		s.usedBytes += entryCharge(e.key, e.value)
	}

	s.evictLocked()
	return nil
}

// Delete removes key. Ultra mode has no tombstones: absence of a key is the
// only way it records a deletion (spec §4.10).
func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readOnly {
		s.roCond.Wait()
	}

	removed := s.index.Delete(&entry{key: key})
	if removed == nil {
		return nil
	}
	e := removed.(*entry)
	s.recency.Remove(e.elem)
	s.usedBytes -= entryCharge(e.key, e.value)
	return nil
}

// Get returns the current value for key, refreshing its recency rank.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.index.Get(&entry{key: key})
	if found == nil {
		return nil, false
	}
	e := found.(*entry)
	s.recency.MoveToFront(e.elem)
	return e.value, true
}

// Range returns a snapshot-consistent ascending iterator over [lo, hi). A
// nil lo or hi means unbounded on that side, matching Engine.Range.
func (s *Store) Range(lo, hi []byte) *Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*entry
	visit := func(i btree.Item) bool {
		e := i.(*entry)
		if hi != nil && bytes.Compare(e.key, hi) >= 0 {
			return false
		}
		items = append(items, &entry{key: e.key, value: e.value})
		return true
	}
	if lo == nil {
		s.index.Ascend(visit)
	} else {
		s.index.AscendGreaterOrEqual(&entry{key: lo}, visit)
	}
	return &Iterator{items: items, pos: -1}
}

// Flush is a no-op: ultra mode has no durability to force (spec §4.10).
func (s *Store) Flush() error { return nil }

// Compact is a no-op: ultra mode has no sorted tables to merge.
func (s *Store) Compact(level int) error { return nil }

// Stats reports the store's current state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		UsedBytes: s.usedBytes,
		MaxBytes:  s.maxBytes,
		KeyCount:  s.index.Len(),
	}
}

// Close releases the store's contents. There is nothing on disk to close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = btree.New(32)
	s.recency.Init()
	s.usedBytes = 0
	return nil
}

// evictLocked drops least-recently-used entries until the store fits within
// maxBytes, or it runs out of entries (spec §4.10: "evicted in ascending
// recency-rank order ... until there is room"). A single entry too large to
// coexist with maxBytes is itself evicted last, since it always starts at
// the front of the recency list.
func (s *Store) evictLocked() {
	for s.usedBytes > s.maxBytes && s.recency.Len() > 0 {
		back := s.recency.Back()
		e := back.Value.(*entry)
		s.recency.Remove(back)
		s.index.Delete(e)
		s.usedBytes -= entryCharge(e.key, e.value)
	}
}

// Iterator walks a Range snapshot in ascending key order.
type Iterator struct {
	items []*entry
	pos   int
}

// SeekToFirst positions the iterator at the first entry in the snapshot.
func (it *Iterator) SeekToFirst() { it.pos = 0 }

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.items), func(i int) bool {
		return bytes.Compare(it.items[i].key, target) >= 0
	})
}

func (it *Iterator) Valid() bool   { return it.pos >= 0 && it.pos < len(it.items) }
func (it *Iterator) Key() []byte   { return it.items[it.pos].key }
func (it *Iterator) Value() []byte { return it.items[it.pos].value }
func (it *Iterator) Next()         { it.pos++ }
func (it *Iterator) Err() error    { return nil }

// IsTombstone always reports false: ultra mode has no tombstones, only
// absence (spec §4.10).
func (it *Iterator) IsTombstone() bool { return false }

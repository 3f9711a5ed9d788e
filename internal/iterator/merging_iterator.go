// Package iterator implements the range-read merge described in spec §4.9:
// the memtable's entries and every overlapping sorted table's entries are
// walked as one ascending stream, with the newest record winning on ties and
// tombstones suppressing every older copy of the same key.
package iterator

import (
	"container/heap"

	"github.com/browserdb/storageengine/internal/dbformat"
)

// Source is anything the merging iterator can walk: memtable.RecordIterator
// and sstable.Iterator both satisfy it without modification beyond the
// SeekToFirst/Err/IsTombstone additions made to bring them into line.
type Source interface {
	Valid() bool
	Key() dbformat.InternalKey
	Value() []byte
	SeekToFirst()
	Seek(userKey []byte)
	Next()
	Err() error
	IsTombstone() bool
}

// MergingIterator merges several internal-key-ordered sources into one
// ascending stream of live (non-tombstone) user keys, each carrying the
// value from whichever source holds the highest sequence number for that
// key. Ties are broken by dbformat.Compare on the encoded trailer, not by
// the order sources are supplied in, so source order does not matter.
type MergingIterator struct {
	children         []Source
	minHeap          *sourceHeap
	surfaceTombstones bool

	internalKey dbformat.InternalKey
	value       []byte
	tombstone   bool
	valid       bool
	err         error
}

// NewMergingIterator returns a MergingIterator over children suitable for
// range reads (spec §4.9): tombstones, and every older copy of the key they
// shadow, are silently dropped from the stream.
func NewMergingIterator(children []Source) *MergingIterator {
	return &MergingIterator{
		children: children,
		minHeap:  &sourceHeap{},
	}
}

// NewCompactionMergingIterator returns a MergingIterator suitable for
// compaction (spec §4.8): the winning record for each user key is surfaced
// even when it is a tombstone, via IsTombstone, so the caller can decide
// whether to drop it (only legal at the last level, and only when no deeper
// table still holds the key) or carry it forward.
func NewCompactionMergingIterator(children []Source) *MergingIterator {
	return &MergingIterator{
		children:          children,
		minHeap:           &sourceHeap{},
		surfaceTombstones: true,
	}
}

// SeekToFirst positions the iterator at the smallest live user key.
func (mi *MergingIterator) SeekToFirst() {
	mi.minHeap.items = mi.minHeap.items[:0]
	for i, c := range mi.children {
		c.SeekToFirst()
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.minHeap)
	mi.advanceToNextLiveKey()
}

// Seek positions the iterator at the first live user key >= target.
func (mi *MergingIterator) Seek(target []byte) {
	mi.minHeap.items = mi.minHeap.items[:0]
	for i, c := range mi.children {
		c.Seek(target)
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.minHeap)
	mi.advanceToNextLiveKey()
}

// Next advances to the next live user key.
func (mi *MergingIterator) Next() {
	if !mi.valid {
		return
	}
	mi.advanceToNextLiveKey()
}

func (mi *MergingIterator) Valid() bool   { return mi.valid }
func (mi *MergingIterator) Key() []byte   { return mi.internalKey.UserKey() }
func (mi *MergingIterator) Value() []byte { return mi.value }
func (mi *MergingIterator) Err() error    { return mi.err }

// IsTombstone reports whether the current entry is a deletion marker. Only
// meaningful when this iterator was built with NewCompactionMergingIterator;
// a range-read MergingIterator never surfaces tombstones in the first place.
func (mi *MergingIterator) IsTombstone() bool { return mi.tombstone }

// InternalKey returns the current entry's full internal key, including its
// original sequence number and kind — used by compaction to preserve the
// winning record's sequence number in the output table rather than
// synthesizing a new one.
func (mi *MergingIterator) InternalKey() dbformat.InternalKey { return mi.internalKey }

func (mi *MergingIterator) pushIfValid(index int, c Source) {
	if !c.Valid() {
		if err := c.Err(); err != nil {
			mi.err = err
		}
		return
	}
	mi.minHeap.items = append(mi.minHeap.items, heapItem{index: index, key: c.Key()})
}

// advanceToNextLiveKey pops entries from the heap for as long as they share
// the current top's user key (every one of them is older, per
// dbformat.Compare's tie-break, since the heap orders by full internal key
// and equal-user-key entries sort by descending trailer). The first entry
// for a user key wins; the rest, and the winner itself if it is a
// tombstone, are discarded before returning.
func (mi *MergingIterator) advanceToNextLiveKey() {
	for {
		if mi.minHeap.Len() == 0 {
			mi.valid = false
			return
		}
		top := mi.minHeap.items[0]
		src := mi.children[top.index]
		winningKey := append(dbformat.InternalKey(nil), src.Key()...)
		tombstone := src.IsTombstone()
		value := src.Value()
		if !tombstone {
			value = append([]byte(nil), value...)
		}

		mi.popAndRefill(top.index)
		for mi.minHeap.Len() > 0 && dbformat.UserKeyCompare(mi.minHeap.items[0].key.UserKey(), winningKey.UserKey()) == 0 {
			mi.popAndRefill(mi.minHeap.items[0].index)
		}

		if tombstone && !mi.surfaceTombstones {
			continue
		}
		mi.internalKey, mi.value, mi.tombstone, mi.valid = winningKey, value, tombstone, true
		return
	}
}

// popAndRefill advances the source at index and either re-heapifies its new
// key or removes it from the heap if exhausted.
func (mi *MergingIterator) popAndRefill(index int) {
	heap.Pop(mi.minHeap)
	src := mi.children[index]
	src.Next()
	if src.Valid() {
		heap.Push(mi.minHeap, heapItem{index: index, key: src.Key()})
	} else if err := src.Err(); err != nil {
		mi.err = err
	}
}

type heapItem struct {
	index int
	key   dbformat.InternalKey
}

type sourceHeap struct {
	items []heapItem
}

func (h *sourceHeap) Len() int { return len(h.items) }

func (h *sourceHeap) Less(i, j int) bool {
	return dbformat.Compare(h.items[i].key, h.items[j].key) < 0
}

func (h *sourceHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *sourceHeap) Push(x any) {
	h.items = append(h.items, x.(heapItem))
}

func (h *sourceHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

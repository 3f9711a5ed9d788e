package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/encoding"
)

// Status is the three-way outcome of a memtable lookup (spec §4.6: a
// memtable's entries are themselves either puts or explicit tombstones, so
// "not in the memtable" and "deleted in the memtable" are distinguishable).
type Status int

const (
	Absent Status = iota
	Found
	Tombstone
)

// nodeOverhead approximates the fixed cost of a skip-list node beyond its
// key bytes, used for the memtable's byte-size estimate.
const nodeOverhead = 48

// Memtable is the active write buffer: a skip list ordered by internal key,
// so a Put/Delete of a key already present simply inserts a new, higher-
// sequence entry that will sort ahead of the old one rather than replacing
// it in place. Writers are serialized by mu; reads do not take it.
type Memtable struct {
	mu       sync.Mutex
	skiplist *SkipList

	approxBytes int64 // atomic
	frozen      atomic.Bool
}

// New returns an empty, writable Memtable.
func New() *Memtable {
	return &Memtable{skiplist: NewSkipList(blobCompare)}
}

// Put inserts a live value for key at seq, shadowing any earlier record for
// the same key (spec §4.6).
func (mt *Memtable) Put(key, value []byte, seq dbformat.SequenceNumber) {
	mt.insert(dbformat.NewInternalKey(key, seq, dbformat.KindPut), value)
}

// Delete inserts a tombstone for key at seq.
func (mt *Memtable) Delete(key []byte, seq dbformat.SequenceNumber) {
	mt.insert(dbformat.NewInternalKey(key, seq, dbformat.KindTombstone), nil)
}

func (mt *Memtable) insert(ik dbformat.InternalKey, value []byte) {
	blob := encodeBlob(ik, value)

	mt.mu.Lock()
	mt.skiplist.Insert(blob)
	mt.mu.Unlock()

	atomic.AddInt64(&mt.approxBytes, int64(len(blob))+nodeOverhead)
}

// Get looks up the most recent record for key. Found means value holds a
// live value; Tombstone means the key was deleted; Absent means the
// memtable holds no record for key at all (the caller must then consult the
// sorted tables).
func (mt *Memtable) Get(key []byte) (value []byte, status Status) {
	// Seeking the internal key built from the maximum possible trailer
	// positions the iterator at the first (highest-sequence) entry for this
	// user key, since dbformat.Compare sorts descending by trailer on ties.
	seekKey := dbformat.NewInternalKey(key, ^dbformat.SequenceNumber(0), dbformat.Kind(0xff))
	iter := mt.skiplist.NewIterator()
	iter.Seek(encodeBlob(seekKey, nil))
	if !iter.Valid() {
		return nil, Absent
	}

	ik, v, ok := decodeBlob(iter.Key())
	if !ok || dbformat.UserKeyCompare(ik.UserKey(), key) != 0 {
		return nil, Absent
	}
	if ik.Kind() == dbformat.KindTombstone {
		return nil, Tombstone
	}
	return v, Found
}

// ApproxBytes returns the estimated memory usage of the memtable's entries,
// used by the engine to decide when to freeze and flush (spec §6
// MEMTABLE_MAX_BYTES).
func (mt *Memtable) ApproxBytes() int64 {
	return atomic.LoadInt64(&mt.approxBytes)
}

// Count returns the number of entries (puts and tombstones together).
func (mt *Memtable) Count() int64 {
	return mt.skiplist.Count()
}

// Freeze marks the memtable read-only. Put and Delete do not check the flag;
// the engine stops writing to a memtable once it freezes it, swaps in a
// fresh Memtable for new writes and queues this one for flush.
func (mt *Memtable) Freeze() {
	mt.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (mt *Memtable) Frozen() bool {
	return mt.frozen.Load()
}

// DrainSorted returns every entry in the memtable in ascending internal-key
// order: the order a flush writes them to a new L0 sstable in. REQUIRES the
// memtable be frozen — draining a live memtable would race with concurrent
// inserts.
func (mt *Memtable) DrainSorted() []Record {
	out := make([]Record, 0, mt.Count())
	it := mt.skiplist.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ik, v, ok := decodeBlob(it.Key())
		if !ok {
			continue
		}
		out = append(out, Record{Key: ik, Value: v})
	}
	return out
}

// Record is one decoded memtable entry, as handed to a flush.
type Record struct {
	Key   dbformat.InternalKey
	Value []byte
}

// NewIterator returns an iterator positioned over the memtable's entries in
// ascending internal-key order, for use by the range-read merging iterator.
func (mt *Memtable) NewIterator() *RecordIterator {
	return &RecordIterator{iter: mt.skiplist.NewIterator()}
}

// RecordIterator adapts the skip list's raw-blob iterator to decoded
// (internal key, value) pairs.
type RecordIterator struct {
	iter  *Iterator
	key   dbformat.InternalKey
	value []byte
	valid bool
}

func (it *RecordIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.decode()
}

func (it *RecordIterator) Seek(userKey []byte) {
	seekKey := dbformat.NewInternalKey(userKey, ^dbformat.SequenceNumber(0), dbformat.Kind(0xff))
	it.iter.Seek(encodeBlob(seekKey, nil))
	it.decode()
}

func (it *RecordIterator) Next() {
	it.iter.Next()
	it.decode()
}

func (it *RecordIterator) Valid() bool               { return it.valid }
func (it *RecordIterator) Key() dbformat.InternalKey { return it.key }
func (it *RecordIterator) Value() []byte             { return it.value }
func (it *RecordIterator) Err() error                { return nil }
func (it *RecordIterator) IsTombstone() bool         { return it.valid && it.key.Kind() == dbformat.KindTombstone }

func (it *RecordIterator) decode() {
	if !it.iter.Valid() {
		it.valid = false
		return
	}
	k, v, ok := decodeBlob(it.iter.Key())
	it.key, it.value, it.valid = k, v, ok
}

// blobCompare orders skip-list blobs by the internal key each one encodes.
func blobCompare(a, b []byte) int {
	ak, _ := extractInternalKey(a)
	bk, _ := extractInternalKey(b)
	return dbformat.Compare(dbformat.InternalKey(ak), dbformat.InternalKey(bk))
}

// encodeBlob packs an internal key and its value into the byte string the
// skip list stores: key_len varint | internal_key | value_len varint | value.
func encodeBlob(ik dbformat.InternalKey, value []byte) []byte {
	dst := make([]byte, 0, len(ik)+len(value)+2*encoding.MaxVarintLen64)
	dst = encoding.AppendVarint(dst, uint64(len(ik)))
	dst = append(dst, ik...)
	dst = encoding.AppendVarint(dst, uint64(len(value)))
	dst = append(dst, value...)
	return dst
}

func extractInternalKey(blob []byte) ([]byte, bool) {
	klen, n, err := encoding.GetVarint(blob)
	if err != nil || n+int(klen) > len(blob) {
		return nil, false
	}
	return blob[n : n+int(klen)], true
}

func decodeBlob(blob []byte) (ik dbformat.InternalKey, value []byte, ok bool) {
	key, ok := extractInternalKey(blob)
	if !ok {
		return nil, nil, false
	}
	rest := blob[encoding.SizeVarint(uint64(len(key)))+len(key):]
	vlen, n, err := encoding.GetVarint(rest)
	if err != nil || n+int(vlen) > len(rest) {
		return nil, nil, false
	}
	return dbformat.InternalKey(key), rest[n : n+int(vlen)], true
}

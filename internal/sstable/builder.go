package sstable

import (
	"fmt"
	"os"
	"time"

	"github.com/browserdb/storageengine/internal/compression"
	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/filter"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// IndexStride is the number of entries between sparse index points
	// (spec §3 "sparse index"; spec §6 INDEX_STRIDE, default 16).
	IndexStride int
	// BloomFPRate is the target false-positive rate for the table's filter.
	BloomFPRate float64
	// Compression selects the algorithm applied to each value before it is
	// written; None stores values unmodified.
	Compression compression.Algo
}

// DefaultBuilderOptions returns an index stride of 16, the filter package's
// default false-positive rate, and no value compression.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		IndexStride: 16,
		BloomFPRate: filter.DefaultFalsePositiveRate,
		Compression: compression.None,
	}
}

// Builder accumulates records in ascending internal-key order and produces
// a single immutable sorted table. A Builder is single-use: call Finish
// once, then discard it.
type Builder struct {
	opts BuilderOptions

	writer   *container.Writer
	index    []container.IndexEntry
	userKeys [][]byte // for the bloom filter; one entry per record added

	sinceIndex int
	hasLast    bool
	lastKey    dbformat.InternalKey
}

// NewBuilder returns a Builder configured by opts.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.IndexStride <= 0 {
		opts.IndexStride = 16
	}
	if opts.BloomFPRate <= 0 {
		opts.BloomFPRate = filter.DefaultFalsePositiveRate
	}
	return &Builder{opts: opts, writer: container.NewWriter(container.KindSSTable)}
}

// Add appends one record. Keys must arrive in strictly ascending internal-key
// order (spec §4.4 "entries within a sorted table are written in strictly
// ascending key order"); Add returns an error rather than silently accepting
// out-of-order input, since a misordered table would corrupt every future
// binary search against it.
func (b *Builder) Add(key dbformat.InternalKey, value []byte) error {
	if b.hasLast && dbformat.Compare(b.lastKey, key) >= 0 {
		return fmt.Errorf("sstable: builder: key %q is not strictly greater than previous key %q", key.UserKey(), b.lastKey.UserKey())
	}

	storedValue := value
	entryKind := container.EntryPut
	if key.Kind() == dbformat.KindTombstone {
		entryKind = container.EntryTombstone
		storedValue = nil
	} else if b.opts.Compression != compression.None && len(value) > 0 {
		compressed, err := compression.Compress(b.opts.Compression, value)
		if err != nil {
			return fmt.Errorf("sstable: builder: compress value for key %q: %w", key.UserKey(), err)
		}
		storedValue = compressed
	}

	if b.sinceIndex == 0 {
		b.index = append(b.index, container.IndexEntry{
			Key:    append([]byte(nil), key...),
			Offset: uint64(len(b.writer.StreamBytes())),
		})
	}
	b.sinceIndex = (b.sinceIndex + 1) % b.opts.IndexStride

	b.writer.Add(container.Entry{
		Kind:     entryKind,
		Sequence: uint64(key.Sequence()),
		Key:      key,
		Value:    storedValue,
	})

	b.userKeys = append(b.userKeys, append([]byte(nil), key.UserKey()...))
	b.lastKey = append(dbformat.InternalKey(nil), key...)
	b.hasLast = true

	return nil
}

// Count returns the number of records added so far.
func (b *Builder) Count() uint64 { return b.writer.Count() }

// EstimatedSize returns the approximate encoded size so far, used by the
// engine to decide when a table being built should be cut (spec §6
// MAX_SSTABLE_BYTES).
func (b *Builder) EstimatedSize() int64 { return int64(len(b.writer.StreamBytes())) }

// Empty reports whether any record has been added.
func (b *Builder) Empty() bool { return b.writer.Count() == 0 }

// Finish assembles the table (bloom filter, footer, CRC) and atomically
// writes it to path: the bytes are written to path+".tmp", fsync'd, then
// renamed into place, so a crash never leaves a half-written table visible
// under its final name.
func (b *Builder) Finish(path string) error {
	bloom := filter.Build(b.userKeys, b.opts.BloomFPRate)

	raw := b.writer.Finish(container.FinishOptions{
		CreatedMS:  time.Now().UnixMilli(),
		Bloom:      bloom.Encode(),
		Index:      b.index,
		Compressed: b.opts.Compression != compression.None,
	})

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sstable: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sstable: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sstable: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sstable: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

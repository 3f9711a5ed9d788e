package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/browserdb/storageengine/internal/iterator"
	"github.com/browserdb/storageengine/internal/sstable"
)

// ExistsBeyond reports whether some table at a level deeper than the
// compaction's output level still holds a live record for userKey. It is
// only consulted when the compaction's output level is the last level the
// engine maintains (spec §4.8 point 4).
type ExistsBeyond func(userKey []byte) bool

// JobOptions configures a single compaction run.
type JobOptions struct {
	OutputDir      string
	BuilderOptions sstable.BuilderOptions
	// NextGeneration returns a fresh, monotonically increasing table
	// generation number for each output file this job produces.
	NextGeneration func() uint64
	ExistsBeyond   ExistsBeyond
}

// Result is the outcome of a completed compaction: the new tables written
// at c.ToLevel, ready to replace c.Inputs and c.Overlaps in the engine's
// level bookkeeping once the manifest is updated.
type Result struct {
	NewTables []*sstable.Table
}

// Run executes c: merges every input table's entries in ascending key
// order, drops tombstones eligible for removal, and partitions the surviving
// records into new sstables of roughly TargetOutputBytes each (spec §4.8:
// "partition the merged output into ... tables of target size").
func Run(c *Compaction, opts JobOptions) (*Result, error) {
	tables := c.AllInputs()
	sources := make([]iterator.Source, 0, len(tables))
	for _, t := range tables {
		sources = append(sources, t.NewIterator(opts.BuilderOptions.Compression))
	}
	mi := iterator.NewCompactionMergingIterator(sources)

	result := &Result{}
	var builder *sstable.Builder

	finish := func() error {
		if builder == nil || builder.Empty() {
			return nil
		}
		gen := opts.NextGeneration()
		path := filepath.Join(opts.OutputDir, fmt.Sprintf("%06d.sst", gen))
		if err := builder.Finish(path); err != nil {
			return fmt.Errorf("compaction: finish output table: %w", err)
		}
		tbl, err := sstable.Open(path, gen, c.ToLevel)
		if err != nil {
			return fmt.Errorf("compaction: open output table: %w", err)
		}
		result.NewTables = append(result.NewTables, tbl)
		builder = nil
		return nil
	}

	for mi.SeekToFirst(); mi.Valid(); mi.Next() {
		if err := mi.Err(); err != nil {
			return nil, fmt.Errorf("compaction: merge: %w", err)
		}

		if mi.IsTombstone() {
			if c.IsLastLevel && (opts.ExistsBeyond == nil || !opts.ExistsBeyond(mi.Key())) {
				// Last level, and nothing deeper holds the key: safe to
				// drop the tombstone entirely (spec §4.8 point 4).
				continue
			}
		}

		if builder == nil {
			builder = sstable.NewBuilder(opts.BuilderOptions)
		}
		if err := builder.Add(mi.InternalKey(), mi.Value()); err != nil {
			return nil, fmt.Errorf("compaction: add entry: %w", err)
		}
		if builder.EstimatedSize() >= c.TargetOutputBytes {
			if err := finish(); err != nil {
				return nil, err
			}
		}
	}
	if err := mi.Err(); err != nil {
		return nil, fmt.Errorf("compaction: merge: %w", err)
	}
	if err := finish(); err != nil {
		return nil, err
	}

	return result, nil
}

package lsm

import (
	"fmt"
	"os"
	"time"

	"github.com/browserdb/storageengine/internal/compaction"
	"github.com/browserdb/storageengine/internal/config"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/sstable"
)

// compactionLoop picks and runs compactions whenever signaled, up to
// MaxBackgroundJobs at a time (spec §4.8: "at most one per (level, level+1)
// pair at a time").
func (e *Engine) compactionLoop() {
	defer e.bgWG.Done()

	backoff := time.Millisecond * 50
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.compCh:
		}

		for {
			e.levelsMu.RLock()
			snapshot := e.levelSnapshot()
			e.levelsMu.RUnlock()

			if !e.picker.NeedsCompaction(snapshot) {
				break
			}
			c := e.picker.Pick(snapshot)
			if c == nil {
				break
			}
			if err := e.runCompaction(c); err != nil {
				e.logger.Error("compaction failed, retrying", "err", err, "fromLevel", c.FromLevel, "toLevel", c.ToLevel)
				select {
				case <-e.stopCh:
					return
				case <-time.After(backoff):
				}
				if backoff < time.Second*5 {
					backoff *= 2
				}
				continue
			}
			backoff = time.Millisecond * 50
		}
	}
}

// runCompaction executes one compaction and publishes its result. It
// refuses to run a second compaction over the same (level, level+1) pair
// concurrently (spec §4.8), and bounds total parallelism to MaxBackgroundJobs.
func (e *Engine) runCompaction(c *compaction.Compaction) error {
	pair := [2]int{c.FromLevel, c.ToLevel}

	e.compactMu.Lock()
	if e.compacting[pair] || len(e.compacting) >= e.cfg.MaxBackgroundJobs {
		e.compactMu.Unlock()
		return nil
	}
	e.compacting[pair] = true
	e.compactMu.Unlock()
	defer func() {
		e.compactMu.Lock()
		delete(e.compacting, pair)
		e.compactMu.Unlock()
	}()

	opts := compaction.JobOptions{
		OutputDir: e.dir,
		BuilderOptions: sstable.BuilderOptions{
			IndexStride: e.cfg.IndexStride,
			BloomFPRate: e.cfg.BloomFPRate,
			Compression: e.cfg.Compression,
		},
		NextGeneration: func() uint64 { return e.nextGen.Add(1) },
		ExistsBeyond:   e.existsBeyond(c.ToLevel),
	}

	result, err := compaction.Run(c, opts)
	if err != nil {
		return fmt.Errorf("lsm: compaction: %w", err)
	}

	if err := e.publishCompaction(c, result); err != nil {
		return err
	}

	for _, t := range c.AllInputs() {
		if rerr := os.Remove(t.Path); rerr != nil {
			e.logger.Warn("failed to remove superseded table", "path", t.Path, "err", rerr)
		}
	}
	return nil
}

// existsBeyond reports whether some table deeper than toLevel still covers
// key, consulted by the compaction job only when its output level is the
// engine's last level (spec §4.8 point 4).
func (e *Engine) existsBeyond(toLevel int) compaction.ExistsBeyond {
	return func(key []byte) bool {
		e.levelsMu.RLock()
		defer e.levelsMu.RUnlock()
		for level := toLevel + 1; level <= config.MaxLevel; level++ {
			for _, t := range e.levels[level] {
				if dbformat.UserKeyCompare(key, t.MinKey) >= 0 && dbformat.UserKeyCompare(key, t.MaxKey) <= 0 {
					return true
				}
			}
		}
		return false
	}
}

func (e *Engine) publishCompaction(c *compaction.Compaction, result *compaction.Result) error {
	e.levelsMu.Lock()
	defer e.levelsMu.Unlock()

	prevFrom := e.levels[c.FromLevel]
	prevTo := e.levels[c.ToLevel]

	e.levels[c.FromLevel] = removeTables(e.levels[c.FromLevel], c.Inputs)
	e.levels[c.ToLevel] = removeTables(e.levels[c.ToLevel], c.Overlaps)
	e.levels[c.ToLevel] = append(e.levels[c.ToLevel], result.NewTables...)

	if err := e.saveManifestLocked(); err != nil {
		e.levels[c.FromLevel] = prevFrom
		e.levels[c.ToLevel] = prevTo
		for _, t := range result.NewTables {
			os.Remove(t.Path)
		}
		return fmt.Errorf("lsm: compaction: publish manifest: %w", err)
	}
	return nil
}

func removeTables(tables []*sstable.Table, remove []*sstable.Table) []*sstable.Table {
	if len(remove) == 0 {
		return tables
	}
	drop := make(map[*sstable.Table]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := make([]*sstable.Table, 0, len(tables))
	for _, t := range tables {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

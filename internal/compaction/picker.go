package compaction

import (
	"sort"

	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/sstable"
)

// Picker selects the next leveled compaction, grounded in the teacher's
// LeveledCompactionPicker (internal/compaction/picker.go): L0 file count
// triggers a merge-all-overlapping L0→L1 compaction; beyond that, the level
// whose size most exceeds its target is compacted one table at a time into
// the next level.
type Picker struct {
	// NumLevels is the number of levels the engine maintains (L0..NumLevels-1).
	NumLevels int
	// L0CompactionTrigger is the L0 table count that triggers compaction
	// (spec §6 L0_MAX).
	L0CompactionTrigger int
	// BaseLevelBytes is the target size for L1; each deeper level's target
	// is BaseLevelBytes * LevelSizeMultiplier^(level-1).
	BaseLevelBytes    int64
	LevelSizeMultiplier float64
	// TargetFileBytes is the size each output table is partitioned to
	// (spec §4.8: "default 16 MiB").
	TargetFileBytes int64
}

// DefaultPicker returns the spec's default leveled-compaction configuration.
func DefaultPicker() *Picker {
	return &Picker{
		NumLevels:           7,
		L0CompactionTrigger: 4,
		BaseLevelBytes:      8 << 20,
		LevelSizeMultiplier: 10.0,
		TargetFileBytes:     16 << 20,
	}
}

// targetBytesForLevel returns the size budget for level (level >= 1).
func (p *Picker) targetBytesForLevel(level int) int64 {
	size := float64(p.BaseLevelBytes)
	for i := 1; i < level; i++ {
		size *= p.LevelSizeMultiplier
	}
	return int64(size)
}

func levelBytes(tables []*sstable.Table) int64 {
	var total int64
	for _, t := range tables {
		total += t.ByteSize
	}
	return total
}

// NeedsCompaction reports whether any level is over its trigger, given the
// engine's current tables indexed by level (levels[0] is L0).
func (p *Picker) NeedsCompaction(levels [][]*sstable.Table) bool {
	if len(levels) > 0 && len(levels[0]) >= p.L0CompactionTrigger {
		return true
	}
	for level := 1; level < len(levels)-1 && level < p.NumLevels-1; level++ {
		if p.score(levels, level) >= 1.0 {
			return true
		}
	}
	return false
}

func (p *Picker) score(levels [][]*sstable.Table, level int) float64 {
	target := p.targetBytesForLevel(level)
	if target <= 0 {
		return 0
	}
	return float64(levelBytes(levels[level])) / float64(target)
}

// Pick selects the next compaction, or nil if none is needed.
func (p *Picker) Pick(levels [][]*sstable.Table) *Compaction {
	if len(levels) > 0 && len(levels[0]) >= p.L0CompactionTrigger {
		return p.pickL0(levels)
	}

	bestLevel, bestScore := -1, 0.0
	for level := 1; level < len(levels)-1 && level < p.NumLevels-1; level++ {
		if s := p.score(levels, level); s > bestScore {
			bestLevel, bestScore = level, s
		}
	}
	if bestLevel < 0 || bestScore < 1.0 {
		return nil
	}
	return p.pickLevel(levels, bestLevel, bestScore)
}

// PickAt selects the compaction for a specific level, regardless of whether
// some other level currently scores higher, for the engine's explicit
// compact(level) operation (spec §4.8 `compact`). It returns nil if that
// level has no compaction work pending.
func (p *Picker) PickAt(levels [][]*sstable.Table, level int) *Compaction {
	if level == 0 {
		if len(levels) == 0 || len(levels[0]) < p.L0CompactionTrigger {
			return nil
		}
		return p.pickL0(levels)
	}
	if level >= len(levels)-1 || level >= p.NumLevels-1 {
		return nil
	}
	score := p.score(levels, level)
	if score < 1.0 {
		return nil
	}
	return p.pickLevel(levels, level, score)
}

// pickL0 merges every current L0 table with every L1 table whose range
// overlaps any of them (spec §4.8: "merge all current L0 tables").
func (p *Picker) pickL0(levels [][]*sstable.Table) *Compaction {
	l0 := append([]*sstable.Table(nil), levels[0]...)
	if len(l0) == 0 {
		return nil
	}

	lo, hi := rangeOf(l0)
	var l1 []*sstable.Table
	if len(levels) > 1 {
		l1 = overlapping(levels[1], lo, hi)
	}

	return &Compaction{
		FromLevel:         0,
		ToLevel:           1,
		Inputs:            l0,
		Overlaps:          l1,
		IsLastLevel:       len(levels) <= 2,
		TargetOutputBytes: p.TargetFileBytes,
		Reason:            ReasonL0FileCountTrigger,
		Score:             float64(len(l0)) / float64(p.L0CompactionTrigger),
	}
}

// pickLevel merges the oldest table in level (smallest min_key first on a
// tie, spec §4.8 point 3) with every overlapping table in level+1.
func (p *Picker) pickLevel(levels [][]*sstable.Table, level int, score float64) *Compaction {
	candidates := append([]*sstable.Table(nil), levels[level]...)
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Generation != candidates[j].Generation {
			return candidates[i].Generation < candidates[j].Generation
		}
		return dbformat.UserKeyCompare(candidates[i].MinKey, candidates[j].MinKey) < 0
	})
	picked := candidates[0]

	next := level + 1
	var overlaps []*sstable.Table
	if next < len(levels) {
		overlaps = overlapping(levels[next], picked.MinKey, picked.MaxKey)
	}

	return &Compaction{
		FromLevel:         level,
		ToLevel:           next,
		Inputs:            []*sstable.Table{picked},
		Overlaps:          overlaps,
		IsLastLevel:       next >= len(levels)-1,
		TargetOutputBytes: p.TargetFileBytes,
		Reason:            ReasonLevelSizeTrigger,
		Score:             score,
	}
}

func rangeOf(tables []*sstable.Table) (lo, hi []byte) {
	for _, t := range tables {
		if lo == nil || dbformat.UserKeyCompare(t.MinKey, lo) < 0 {
			lo = t.MinKey
		}
		if hi == nil || dbformat.UserKeyCompare(t.MaxKey, hi) > 0 {
			hi = t.MaxKey
		}
	}
	return lo, hi
}

func overlapping(tables []*sstable.Table, lo, hi []byte) []*sstable.Table {
	var out []*sstable.Table
	for _, t := range tables {
		// Overlaps expects a half-open [lo, hi) range; the compaction range
		// here is inclusive on both ends, so widen hi by consulting MaxKey
		// directly rather than through Table.Overlaps's exclusive bound.
		if dbformat.UserKeyCompare(t.MinKey, hi) > 0 || dbformat.UserKeyCompare(t.MaxKey, lo) < 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

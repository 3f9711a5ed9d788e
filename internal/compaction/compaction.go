// Package compaction implements the engine's leveled compaction strategy
// (spec §4.8): L0 tables are merged wholesale into L1, and beyond L1 the
// oldest table in a level is merged into the overlapping tables of the next
// level. Universal and FIFO strategies are out of scope — spec.md commits
// to leveled compaction only (§9 Open Questions) — so this package keeps
// only the teacher's LeveledCompactionPicker lineage, generalized from the
// teacher's manifest/version types to this engine's internal/sstable.Table.
package compaction

import (
	"github.com/browserdb/storageengine/internal/sstable"
)

// Reason records why a Compaction was selected, for logging.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonL0FileCountTrigger
	ReasonLevelSizeTrigger
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonL0FileCountTrigger:
		return "L0 file count"
	case ReasonLevelSizeTrigger:
		return "level size"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Compaction describes one selected compaction: the source level's input
// tables, the overlapping tables in the destination level, and whether the
// destination level is the last level the engine maintains (which gates
// tombstone dropping, spec §4.8 point 4).
type Compaction struct {
	FromLevel int
	ToLevel   int

	Inputs   []*sstable.Table // tables from FromLevel participating
	Overlaps []*sstable.Table // tables from ToLevel overlapping Inputs' range

	IsLastLevel       bool
	TargetOutputBytes int64
	Reason            Reason
	Score             float64
}

// AllInputs returns Inputs and Overlaps concatenated, the full read set for
// this compaction's merge.
func (c *Compaction) AllInputs() []*sstable.Table {
	out := make([]*sstable.Table, 0, len(c.Inputs)+len(c.Overlaps))
	out = append(out, c.Inputs...)
	out = append(out, c.Overlaps...)
	return out
}

package compaction

import (
	"path/filepath"
	"testing"

	"github.com/browserdb/storageengine/internal/compression"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/sstable"
)

func buildTestTable(t *testing.T, dir string, gen uint64, level int, keys []string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(sstable.DefaultBuilderOptions())
	for i, k := range keys {
		ik := dbformat.NewInternalKey([]byte(k), dbformat.SequenceNumber(gen*1000+uint64(i)+1), dbformat.KindPut)
		if err := b.Add(ik, []byte("v-"+k)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	path := filepath.Join(dir, sstPathName(gen))
	if err := b.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	tbl, err := sstable.Open(path, gen, level)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tbl
}

func sstPathName(gen uint64) string {
	return "tbl" + string(rune('0'+gen)) + ".bdb"
}

func TestPickerNeedsCompactionOnL0Trigger(t *testing.T) {
	dir := t.TempDir()
	p := DefaultPicker()
	p.L0CompactionTrigger = 2

	levels := [][]*sstable.Table{
		{buildTestTable(t, dir, 1, 0, []string{"a"}), buildTestTable(t, dir, 2, 0, []string{"b"})},
	}
	if !p.NeedsCompaction(levels) {
		t.Error("NeedsCompaction() = false, want true when L0 count >= trigger")
	}
}

func TestPickerNoCompactionWhenUnderTrigger(t *testing.T) {
	dir := t.TempDir()
	p := DefaultPicker()
	p.L0CompactionTrigger = 4

	levels := [][]*sstable.Table{
		{buildTestTable(t, dir, 1, 0, []string{"a"})},
		{},
	}
	if p.NeedsCompaction(levels) {
		t.Error("NeedsCompaction() = true, want false when under every trigger")
	}
}

func TestPickerPicksL0MergeAllOverlapping(t *testing.T) {
	dir := t.TempDir()
	p := DefaultPicker()
	p.L0CompactionTrigger = 2

	l0a := buildTestTable(t, dir, 1, 0, []string{"b"})
	l0b := buildTestTable(t, dir, 2, 0, []string{"d"})
	l1 := buildTestTable(t, dir, 3, 1, []string{"c"})
	l1Outside := buildTestTable(t, dir, 4, 1, []string{"z"})

	levels := [][]*sstable.Table{
		{l0a, l0b},
		{l1, l1Outside},
	}
	c := p.Pick(levels)
	if c == nil {
		t.Fatal("Pick() = nil, want a compaction")
	}
	if c.FromLevel != 0 || c.ToLevel != 1 {
		t.Errorf("FromLevel/ToLevel = %d/%d, want 0/1", c.FromLevel, c.ToLevel)
	}
	if len(c.Inputs) != 2 {
		t.Errorf("len(Inputs) = %d, want 2 (all L0 tables)", len(c.Inputs))
	}
	if len(c.Overlaps) != 1 || c.Overlaps[0] != l1 {
		t.Errorf("Overlaps = %v, want just the overlapping L1 table", c.Overlaps)
	}
}

func TestPickerPickLevelPicksOldestWithTieBreak(t *testing.T) {
	dir := t.TempDir()
	p := DefaultPicker()

	// Two L1 tables with the same generation (tie on age): the one with
	// the smaller min_key should be picked (spec §4.8 point 3).
	tA := buildTestTable(t, dir, 5, 1, []string{"m"})
	tB := buildTestTable(t, dir, 5, 1, []string{"a"})

	levels := [][]*sstable.Table{
		{},
		{tA, tB},
		{},
	}
	c := p.pickLevel(levels, 1, 2.0)
	if c == nil {
		t.Fatal("pickLevel() = nil")
	}
	if len(c.Inputs) != 1 || c.Inputs[0] != tB {
		t.Errorf("Inputs = %v, want the table with the smaller min_key on a generation tie", c.Inputs)
	}
}

func TestJobRunRewritesEveryEntryOfSingleInput(t *testing.T) {
	dir := t.TempDir()
	l0 := buildTestTable(t, dir, 1, 0, []string{"a", "b", "c"})

	c := &Compaction{
		FromLevel:         0,
		ToLevel:           1,
		Inputs:            []*sstable.Table{l0},
		IsLastLevel:       true,
		TargetOutputBytes: 16 << 20,
	}

	outDir := t.TempDir()
	var nextGen uint64 = 100
	result, err := Run(c, JobOptions{
		OutputDir:      outDir,
		BuilderOptions: sstable.DefaultBuilderOptions(),
		NextGeneration: func() uint64 { nextGen++; return nextGen },
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.NewTables) != 1 {
		t.Fatalf("len(NewTables) = %d, want 1", len(result.NewTables))
	}
	if result.NewTables[0].EntryCount() != 3 {
		t.Errorf("EntryCount() = %d, want 3", result.NewTables[0].EntryCount())
	}
}

func TestJobRunDropsTombstoneAtLastLevelWhenNothingBeyond(t *testing.T) {
	dir := t.TempDir()
	b := sstable.NewBuilder(sstable.DefaultBuilderOptions())
	if err := b.Add(dbformat.NewInternalKey([]byte("k"), 1, dbformat.KindTombstone), nil); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "t.bdb")
	if err := b.Finish(path); err != nil {
		t.Fatal(err)
	}
	tbl, err := sstable.Open(path, 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	c := &Compaction{
		FromLevel:         0,
		ToLevel:           1,
		Inputs:            []*sstable.Table{tbl},
		IsLastLevel:       true,
		TargetOutputBytes: 16 << 20,
	}

	outDir := t.TempDir()
	var nextGen uint64
	result, err := Run(c, JobOptions{
		OutputDir:      outDir,
		BuilderOptions: sstable.DefaultBuilderOptions(),
		NextGeneration: func() uint64 { nextGen++; return nextGen },
		ExistsBeyond:   func(userKey []byte) bool { return false },
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.NewTables) != 0 {
		t.Errorf("len(NewTables) = %d, want 0 (tombstone dropped, nothing else to write)", len(result.NewTables))
	}
}

func TestJobRunKeepsTombstoneWhenNotLastLevel(t *testing.T) {
	dir := t.TempDir()
	b := sstable.NewBuilder(sstable.DefaultBuilderOptions())
	if err := b.Add(dbformat.NewInternalKey([]byte("k"), 1, dbformat.KindTombstone), nil); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "t.bdb")
	if err := b.Finish(path); err != nil {
		t.Fatal(err)
	}
	tbl, err := sstable.Open(path, 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	c := &Compaction{
		FromLevel:         0,
		ToLevel:           1,
		Inputs:            []*sstable.Table{tbl},
		IsLastLevel:       false,
		TargetOutputBytes: 16 << 20,
	}

	outDir := t.TempDir()
	var nextGen uint64
	result, err := Run(c, JobOptions{
		OutputDir:      outDir,
		BuilderOptions: sstable.DefaultBuilderOptions(),
		NextGeneration: func() uint64 { nextGen++; return nextGen },
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.NewTables) != 1 {
		t.Fatalf("len(NewTables) = %d, want 1 (tombstone carried forward)", len(result.NewTables))
	}
	_, status, err := result.NewTables[0].Get([]byte("k"), compression.None)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if status != sstable.Tombstone {
		t.Errorf("status = %v, want Tombstone", status)
	}
}

// Package lsm implements the storage engine's persistent-mode core (C8): the
// write path, flush and compaction background tasks, and the point/range
// read paths that walk the memtable and the level-organized sorted tables
// together. It is grounded in the teacher's db.DBImpl (internal/db/db.go):
// a single write mutex, a level-bookkeeping lock taken only to publish or
// consult the current set of live tables, and channel-signaled background
// workers bounded by a job count, rather than one goroutine per task.
package lsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/browserdb/storageengine/internal/compaction"
	"github.com/browserdb/storageengine/internal/config"
	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/heat"
	"github.com/browserdb/storageengine/internal/iterator"
	"github.com/browserdb/storageengine/internal/logging"
	"github.com/browserdb/storageengine/internal/manifest"
	"github.com/browserdb/storageengine/internal/memtable"
	"github.com/browserdb/storageengine/internal/sstable"
)

// Errors the engine returns. The root package classifies them into its
// closed Kind set via errors.Is; lsm itself knows nothing of that type so it
// stays importable from internal/persistent without a cycle.
var (
	ErrKeyTooLarge   = errors.New("lsm: key exceeds KEY_MAX")
	ErrValueTooLarge = errors.New("lsm: value exceeds VALUE_MAX")
	ErrNotFound      = errors.New("lsm: key not found")
	ErrReadOnly      = errors.New("lsm: engine is read-only")
	ErrClosed        = errors.New("lsm: engine is closed")
)

const manifestFileName = "MANIFEST"

// Stats summarizes the engine's current state for diagnostics (spec §4.8
// `stats`).
type Stats struct {
	MemtableBytes int64
	LevelTables   []int
	LevelBytes    []int64
	NextSequence  dbformat.SequenceNumber
	HotKeys       int
}

// Engine is the persistent-mode LSM core. It always writes beneath a
// directory: callers that want a purely in-memory engine use internal/ultra
// instead, which does not import this package at all.
type Engine struct {
	dir string
	cfg config.Config

	logger logging.Logger
	heat   *heat.Tracker
	picker *compaction.Picker

	// writeMu serializes Put/Delete and the freeze-on-threshold decision,
	// matching the spec's "exactly one writer" concurrency model (§5).
	writeMu sync.Mutex
	mem     *memtable.Memtable
	imm     *memtable.Memtable // frozen, awaiting flush; nil when none
	immCond *sync.Cond

	// levelsMu guards the live-table bookkeeping. Readers take it for the
	// duration of a lookup; flush and compaction take it only to publish
	// their results, never while doing I/O.
	levelsMu sync.RWMutex
	levels   [][]*sstable.Table

	seq     atomic.Uint64
	nextGen atomic.Uint64

	compacting map[[2]int]bool // (fromLevel,toLevel) pairs currently running
	compactMu  sync.Mutex

	readOnly atomic.Bool
	closed   atomic.Bool

	bgWG     sync.WaitGroup
	flushCh  chan struct{}
	compCh   chan struct{}
	stopCh   chan struct{}
}

func tableFileName(gen uint64) string { return fmt.Sprintf("%06d.sst", gen) }

// Open discovers the sorted tables under dir, parses (or reconstructs) the
// manifest, and returns a ready Engine. dir is created if it does not exist.
func Open(dir string, cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create directory %s: %w", dir, err)
	}

	e := &Engine{
		dir:        dir,
		cfg:        cfg,
		logger:     logging.New("lsm"),
		heat:       heat.New(heat.Config{Capacity: cfg.HeatCapacity}),
		picker:     levelPicker(cfg),
		mem:        memtable.New(),
		levels:     make([][]*sstable.Table, config.MaxLevel+1),
		compacting: make(map[[2]int]bool),
		flushCh:    make(chan struct{}, 1),
		compCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	e.immCond = sync.NewCond(&e.writeMu)

	maxGen, maxSeq, err := e.loadTables()
	if err != nil {
		return nil, err
	}
	e.nextGen.Store(maxGen + 1)
	e.seq.Store(uint64(maxSeq))

	e.bgWG.Add(2)
	go e.flushLoop()
	go e.compactionLoop()

	return e, nil
}

func levelPicker(cfg config.Config) *compaction.Picker {
	p := compaction.DefaultPicker()
	p.NumLevels = config.MaxLevel + 1
	p.L0CompactionTrigger = cfg.L0MaxTables
	p.BaseLevelBytes = cfg.BaseLevelBytes
	p.LevelSizeMultiplier = cfg.LevelGrowth
	p.TargetFileBytes = cfg.MaxSSTableBytes
	return p
}

// loadTables parses the manifest and opens every table it names. When the
// manifest is absent, every discovered sstable file is loaded into L0
// instead (spec §4.9 point 2): L0 tolerates overlapping ranges, and the
// read path's newest-generation-first resolution order means a stale,
// superseded file simply loses to whichever table replaced it, so this
// reconstruction is safe even though it is not performance-optimal.
func (e *Engine) loadTables() (maxGen uint64, maxSeq dbformat.SequenceNumber, err error) {
	manifestPath := filepath.Join(e.dir, manifestFileName)
	state, merr := manifest.Load(manifestPath)

	switch {
	case merr == nil:
		for _, ti := range state.Tables {
			t, oerr := sstable.Open(filepath.Join(e.dir, tableFileName(ti.Generation)), ti.Generation, ti.Level)
			if oerr != nil {
				// A manifest entry whose file is missing or fails a CRC check
				// is logged and skipped rather than failing the whole open, so
				// a damaged file does not wedge the engine (spec §4.8 failure
				// policy). The file is left in place, neither repaired nor
				// renamed.
				e.logger.Warn("skipping table named in manifest", "generation", ti.Generation, "err", oerr)
				continue
			}
			e.levels[ti.Level] = append(e.levels[ti.Level], t)
			maxGen, maxSeq = maxUint64(maxGen, ti.Generation), maxSeqOf(maxSeq, t.MaxSeq)
		}
		if uint64(state.NextSequence) > uint64(maxSeq) {
			maxSeq = state.NextSequence
		}
		return maxGen, maxSeq, nil

	case os.IsNotExist(merr):
		matches, gerr := filepath.Glob(filepath.Join(e.dir, "*.sst"))
		if gerr != nil {
			return 0, 0, fmt.Errorf("lsm: scan %s: %w", e.dir, gerr)
		}
		sort.Strings(matches)
		for _, path := range matches {
			gen, perr := parseGeneration(filepath.Base(path))
			if perr != nil {
				e.logger.Warn("skipping unrecognized file during reconstruction", "path", path)
				continue
			}
			t, oerr := sstable.Open(path, gen, 0)
			if oerr != nil {
				e.logger.Warn("skipping unopenable table during reconstruction", "path", path, "err", oerr)
				continue
			}
			e.levels[0] = append(e.levels[0], t)
			maxGen, maxSeq = maxUint64(maxGen, gen), maxSeqOf(maxSeq, t.MaxSeq)
		}
		return maxGen, maxSeq, nil

	default:
		return 0, 0, fmt.Errorf("lsm: load manifest: %w", merr)
	}
}

func parseGeneration(name string) (uint64, error) {
	var gen uint64
	_, err := fmt.Sscanf(name, "%06d.sst", &gen)
	return gen, err
}

func maxUint64(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}

func maxSeqOf(a, b dbformat.SequenceNumber) dbformat.SequenceNumber {
	if b > a {
		return b
	}
	return a
}

// Put validates and inserts a live value (spec §4.8 write path).
func (e *Engine) Put(key, value []byte) error {
	if len(key) > config.KeyMax {
		return ErrKeyTooLarge
	}
	if len(value) > config.ValueMax {
		return ErrValueTooLarge
	}
	return e.write(key, value, false)
}

// Delete inserts a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	if len(key) > config.KeyMax {
		return ErrKeyTooLarge
	}
	return e.write(key, nil, true)
}

func (e *Engine) write(key, value []byte, tombstone bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.readOnly.Load() {
		return ErrReadOnly
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	for e.imm != nil {
		// Backpressure: the previous frozen memtable hasn't finished
		// flushing yet. Wait rather than unbounded-buffer new writes.
		e.immCond.Wait()
		if e.closed.Load() {
			return ErrClosed
		}
	}

	seq := dbformat.SequenceNumber(e.seq.Add(1))
	if tombstone {
		e.mem.Delete(key, seq)
		e.heat.Observe(key, heat.Delete, seq)
	} else {
		e.mem.Put(key, value, seq)
		e.heat.Observe(key, heat.Write, seq)
	}

	if e.mem.ApproxBytes() >= e.cfg.MemtableMaxBytes {
		e.imm = e.mem
		e.imm.Freeze()
		e.mem = memtable.New()
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// Get resolves the current value for key (spec §4.8 read path).
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	e.heat.Observe(key, heat.Read, dbformat.SequenceNumber(e.seq.Load()))

	e.writeMu.Lock()
	mem, imm := e.mem, e.imm
	e.writeMu.Unlock()

	if v, status := mem.Get(key); status != memtable.Absent {
		return resolveMemStatus(v, status)
	}
	if imm != nil {
		if v, status := imm.Get(key); status != memtable.Absent {
			return resolveMemStatus(v, status)
		}
	}

	e.levelsMu.RLock()
	defer e.levelsMu.RUnlock()

	for level := 0; level <= config.MaxLevel; level++ {
		tables := candidateTables(e.levels[level], key)
		for _, t := range tables {
			v, status, err := t.Get(key, e.cfg.Compression)
			if err != nil {
				var corrupt *container.CorruptError
				if !e.cfg.StrictChecksums && errors.As(err, &corrupt) {
					e.logger.Warn("checksum failure during get; treating key as absent", "table", t.Path, "err", err)
					return nil, ErrNotFound
				}
				return nil, fmt.Errorf("lsm: get: %w", err)
			}
			switch status {
			case sstable.Found:
				return v, nil
			case sstable.Tombstone:
				return nil, ErrNotFound
			}
		}
	}

	return nil, ErrNotFound
}

func resolveMemStatus(v []byte, status memtable.Status) ([]byte, error) {
	if status == memtable.Tombstone {
		return nil, ErrNotFound
	}
	return v, nil
}

// candidateTables returns the tables at a level that might hold key, newest
// generation first: at L0 ranges can overlap so every matching table is a
// candidate; at L1+ ranges are disjoint so at most one ever matches.
func candidateTables(tables []*sstable.Table, key []byte) []*sstable.Table {
	var out []*sstable.Table
	for _, t := range tables {
		if dbformat.UserKeyCompare(key, t.MinKey) >= 0 && dbformat.UserKeyCompare(key, t.MaxKey) <= 0 && t.MayContain(key) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation > out[j].Generation })
	return out
}

// Range returns a merging iterator over every live (key, value) pair in
// [lo, hi), snapshot-consistent as of this call (spec §4.8 range path).
func (e *Engine) Range(lo, hi []byte) *iterator.MergingIterator {
	e.writeMu.Lock()
	mem, imm := e.mem, e.imm
	e.writeMu.Unlock()

	e.levelsMu.RLock()
	defer e.levelsMu.RUnlock()

	var sources []iterator.Source
	sources = append(sources, mem.NewIterator())
	if imm != nil {
		sources = append(sources, imm.NewIterator())
	}
	for level := 0; level <= config.MaxLevel; level++ {
		for _, t := range e.levels[level] {
			if t.Overlaps(lo, hi) {
				sources = append(sources, t.NewIterator(e.cfg.Compression))
			}
		}
	}

	mi := iterator.NewMergingIterator(sources)
	if lo == nil {
		mi.SeekToFirst()
	} else {
		mi.Seek(lo)
	}
	return mi
}

// Flush forces the current memtable to become a durable sorted table,
// returning once that table (or the no-op of an empty memtable) is
// published (spec §4.8 `flush`).
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	if e.imm == nil && e.mem.Count() > 0 {
		e.imm = e.mem
		e.imm.Freeze()
		e.mem = memtable.New()
	}
	imm := e.imm
	e.writeMu.Unlock()

	if imm == nil {
		return nil
	}
	return e.doFlush(imm)
}

// Compact forces a compaction at level, or, when level is negative, at
// whichever level the picker scores highest; it returns immediately if the
// picker finds no work there (spec §4.8 `compact`).
func (e *Engine) Compact(level int) error {
	if level > config.MaxLevel {
		return fmt.Errorf("lsm: compact: level %d out of range", level)
	}

	e.levelsMu.RLock()
	snapshot := e.levelSnapshot()
	e.levelsMu.RUnlock()

	var c *compaction.Compaction
	if level < 0 {
		c = e.picker.Pick(snapshot)
	} else {
		c = e.picker.PickAt(snapshot, level)
	}
	if c == nil {
		return nil
	}
	return e.runCompaction(c)
}

func (e *Engine) levelSnapshot() [][]*sstable.Table {
	out := make([][]*sstable.Table, len(e.levels))
	for i, tables := range e.levels {
		out[i] = append([]*sstable.Table(nil), tables...)
	}
	return out
}

// Stats reports the engine's current state.
func (e *Engine) Stats() Stats {
	e.writeMu.Lock()
	memBytes := e.mem.ApproxBytes()
	if e.imm != nil {
		memBytes += e.imm.ApproxBytes()
	}
	e.writeMu.Unlock()

	e.levelsMu.RLock()
	defer e.levelsMu.RUnlock()

	s := Stats{
		MemtableBytes: memBytes,
		LevelTables:   make([]int, len(e.levels)),
		LevelBytes:    make([]int64, len(e.levels)),
		NextSequence:  dbformat.SequenceNumber(e.seq.Load() + 1),
		HotKeys:       e.heat.Len(),
	}
	for i, tables := range e.levels {
		s.LevelTables[i] = len(tables)
		for _, t := range tables {
			s.LevelBytes[i] += t.ByteSize
		}
	}
	return s
}

// SetReadOnly toggles the engine's read-only state for the mode-switch
// coordinator's Prepare phase (spec §4.11 point 2): while it is set, Put and
// Delete fail at once with ErrReadOnly; they do not wait for it to clear.
func (e *Engine) SetReadOnly(ro bool) {
	e.readOnly.Store(ro)
}

// Close stops background workers and releases resources. It does not flush
// the current memtable; callers that need that call Flush first.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	e.writeMu.Lock()
	e.immCond.Broadcast()
	e.writeMu.Unlock()
	e.bgWG.Wait()
	return nil
}

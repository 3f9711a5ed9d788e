// Package heat implements the per-key access tracker (C7): an exponentially
// decayed frequency/recency score with adaptive hot/warm/cold thresholds,
// used to bias cache admission. Losing heat data only degrades admission
// decisions; it never affects correctness, so every failure mode here is a
// silent degradation rather than a returned error (spec §4.7).
//
// The capacity-bounded eviction (discard entries below cold_threshold once
// the tracked key count is near capacity) reuses the teacher's
// internal/cache.LRUCache eviction-ordering idiom: a container/list tracking
// touch order plus a map for O(1) lookup, generalized from byte-charge
// accounting to a pure key count.
package heat

import (
	"container/list"
	"sort"
	"sync"

	"github.com/browserdb/storageengine/internal/dbformat"
)

// Kind classifies the event observed for a key. Writes, deletions, and
// compaction touches weigh more than plain reads (spec §4.7: "writes count
// more than reads; deletions and compactions contribute too").
type Kind int

const (
	Read Kind = iota
	Write
	Delete
	Compaction
)

// Event weights. Chosen so a single write outweighs a single read by 3x,
// matching the spec's qualitative ordering; there is no prescribed exact
// ratio, so these are a reasonable default rather than a derived constant.
const (
	weightRead       = 1.0
	weightWrite      = 3.0
	weightDelete     = 2.0
	weightCompaction = 1.0
)

func (k Kind) weight() float64 {
	switch k {
	case Write:
		return weightWrite
	case Delete:
		return weightDelete
	case Compaction:
		return weightCompaction
	default:
		return weightRead
	}
}

// Config tunes the tracker's tick cadence, capacity, and decay rate.
type Config struct {
	// Capacity is the approximate maximum number of tracked keys before
	// eviction kicks in.
	Capacity int
	// TickEvents triggers a decay tick after this many observe() calls
	// (spec §6 HEAT_TICK_INTERVAL).
	TickEvents int
	// DecayFactor multiplies every score at each tick; a factor of 0.5
	// halves scores every tick, pulling stale keys toward zero.
	DecayFactor float64
	// HotFraction is the target fraction of tracked keys classified hot
	// after a tick, kept within [0.05, 0.15] per spec invariant P8.
	HotFraction float64
}

// DefaultConfig returns the spec's default tracker configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:    100_000,
		TickEvents:  1024,
		DecayFactor: 0.5,
		HotFraction: 0.10,
	}
}

// Tracker is a thread-safe per-key access tracker.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently touched

	eventsSinceTick int

	hotThreshold  float64
	warmThreshold float64
	coldThreshold float64
}

type record struct {
	key           []byte
	reads, writes uint64
	lastAccessSeq dbformat.SequenceNumber
	score         float64
}

// New returns an empty Tracker configured by cfg.
func New(cfg Config) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.TickEvents <= 0 {
		cfg.TickEvents = DefaultConfig().TickEvents
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = DefaultConfig().DecayFactor
	}
	if cfg.HotFraction <= 0 {
		cfg.HotFraction = DefaultConfig().HotFraction
	}
	return &Tracker{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Observe records one access event for key. A tick and/or eviction pass may
// run inline as a side effect (spec §4.7: a tick runs after every
// HEAT_TICK_INTERVAL events).
func (t *Tracker) Observe(key []byte, kind Kind, seq dbformat.SequenceNumber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.entries[string(key)]; ok {
		rec := elem.Value.(*record)
		t.bump(rec, kind, seq)
		t.order.MoveToFront(elem)
	} else {
		rec := &record{key: append([]byte(nil), key...)}
		t.bump(rec, kind, seq)
		elem := t.order.PushFront(rec)
		t.entries[string(key)] = elem
	}

	t.eventsSinceTick++
	if t.eventsSinceTick >= t.cfg.TickEvents {
		t.decayTickLocked()
	}
	t.evictIfOverCapacityLocked()
}

func (t *Tracker) bump(rec *record, kind Kind, seq dbformat.SequenceNumber) {
	switch kind {
	case Write, Delete, Compaction:
		rec.writes++
	default:
		rec.reads++
	}
	rec.score += kind.weight()
	rec.lastAccessSeq = seq
}

// IsHot reports whether key's current score is at or above the tracker's
// hot threshold. An untracked key is never hot.
func (t *Tracker) IsHot(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[string(key)]
	if !ok {
		return false
	}
	return elem.Value.(*record).score >= t.hotThreshold
}

// TopHot returns up to n tracked keys with the highest scores, descending.
func (t *Tracker) TopHot(n int) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 {
		return nil
	}
	recs := make([]*record, 0, len(t.entries))
	for _, elem := range t.entries {
		recs = append(recs, elem.Value.(*record))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].score > recs[j].score })
	if n > len(recs) {
		n = len(recs)
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), recs[i].key...)
	}
	return out
}

// DecayTick forces an immediate decay tick and threshold recalculation,
// independent of the event-count trigger (spec §6 HEAT_TICK_MS: "whichever
// comes first" — the engine's background scheduler calls this on a timer).
func (t *Tracker) DecayTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decayTickLocked()
}

func (t *Tracker) decayTickLocked() {
	t.eventsSinceTick = 0

	scores := make([]float64, 0, len(t.entries))
	for _, elem := range t.entries {
		rec := elem.Value.(*record)
		rec.score *= t.cfg.DecayFactor
		scores = append(scores, rec.score)
	}
	t.recomputeThresholds(scores)
	t.evictColdLocked()
}

// recomputeThresholds adjusts hot/warm/cold so that roughly HotFraction of
// tracked keys classify as hot, keeping within the spec's [5%, 15%] band
// (invariant P8).
func (t *Tracker) recomputeThresholds(scores []float64) {
	if len(scores) == 0 {
		t.hotThreshold, t.warmThreshold, t.coldThreshold = 0, 0, 0
		return
	}
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	hotFrac := t.cfg.HotFraction
	if hotFrac < 0.05 {
		hotFrac = 0.05
	}
	if hotFrac > 0.15 {
		hotFrac = 0.15
	}
	hotIdx := int(float64(len(sorted)) * hotFrac)
	if hotIdx >= len(sorted) {
		hotIdx = len(sorted) - 1
	}
	warmIdx := int(float64(len(sorted)) * 0.40)
	if warmIdx >= len(sorted) {
		warmIdx = len(sorted) - 1
	}
	coldIdx := int(float64(len(sorted)) * 0.80)
	if coldIdx >= len(sorted) {
		coldIdx = len(sorted) - 1
	}

	t.hotThreshold = sorted[hotIdx]
	t.warmThreshold = sorted[warmIdx]
	t.coldThreshold = sorted[coldIdx]
}

// evictIfOverCapacityLocked evicts cold entries, oldest-touched first, once
// the tracked key count exceeds capacity.
func (t *Tracker) evictIfOverCapacityLocked() {
	if len(t.entries) <= t.cfg.Capacity {
		return
	}
	t.evictColdLocked()
}

// evictColdLocked drops entries at or below the cold threshold, scanning from the
// least-recently-touched end of the order list, until the tracker is back
// within capacity or no more cold entries remain. Leaving some entries over
// capacity when none qualify as cold is an acceptable degradation (spec
// §4.7: eviction is best-effort, never load-bearing for correctness).
func (t *Tracker) evictColdLocked() {
	if len(t.entries) <= t.cfg.Capacity {
		return
	}
	for elem := t.order.Back(); elem != nil && len(t.entries) > t.cfg.Capacity; {
		prev := elem.Prev()
		rec := elem.Value.(*record)
		if rec.score <= t.coldThreshold {
			t.order.Remove(elem)
			delete(t.entries, string(rec.key))
		}
		elem = prev
	}
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

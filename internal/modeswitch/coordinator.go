package modeswitch

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBatchSize is the number of entries migrated between progress
// notifications and perf samples (spec §4.11 point 4: "batches of BATCH
// (default 1024)").
const DefaultBatchSize = 1024

// PerfWeights scores a migration's health across three independent signals.
// The coordinator stores these but does not read them; Thresholds alone
// decide whether a perf_alert fires and how it is labeled.
type PerfWeights struct {
	RateWeight     float64
	MemoryWeight   float64
	DurationWeight float64
}

// DefaultPerfWeights splits scoring evenly across all three signals.
func DefaultPerfWeights() PerfWeights {
	return PerfWeights{RateWeight: 1.0 / 3, MemoryWeight: 1.0 / 3, DurationWeight: 1.0 / 3}
}

// PerfThresholds are the critical-severity limits that abort a migration in
// progress (spec §4.11 point 4). A zero field disables that particular
// check.
type PerfThresholds struct {
	MinEntriesPerSecond float64
	MaxHeapBytes        uint64
	MaxBatchDuration     time.Duration
}

// Config configures a Coordinator.
type Config struct {
	BatchSize  int
	Weights    PerfWeights
	Thresholds PerfThresholds
}

// Hooks let the coordinator drive the caller's single point of dispatch
// without needing to know how it is represented: Quiesce gates new writes at
// the root engine (not at either backend), so a writer blocked during the
// switch re-reads the active backend after release and lands on whichever
// one Commit swapped in; Swap repoints that single active-backend reference;
// NewBackend constructs the target backend from cfg.
type Hooks struct {
	Quiesce    func(bool)
	Swap       func(Backend)
	NewBackend func(TargetConfig) (Backend, error)
}

// Coordinator drives one mode switch at a time through the state machine
// described in spec §4.11, notifying registered listeners as it goes.
type Coordinator struct {
	mu    sync.Mutex
	state State

	listeners []Listener

	batchSize  int
	weights    PerfWeights
	thresholds PerfThresholds

	canceled atomic.Bool
}

// New returns a Coordinator ready to run one Switch.
func New(cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Weights == (PerfWeights{}) {
		cfg.Weights = DefaultPerfWeights()
	}
	return &Coordinator{
		state:      StateIdle,
		batchSize:  cfg.BatchSize,
		weights:    cfg.Weights,
		thresholds: cfg.Thresholds,
	}
}

// AddListener registers l to receive every subsequent notification.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// State reports the coordinator's current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Cancel requests that an in-progress Switch stop at the next batch
// boundary and roll back (spec §4.11 "Cancellation").
func (c *Coordinator) Cancel() {
	c.canceled.Store(true)
}

func (c *Coordinator) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

func (c *Coordinator) notifyProgress(processed, total int64, phase string) {
	for _, l := range c.snapshotListeners() {
		l.OnProgress(processed, total, phase)
	}
}

func (c *Coordinator) notifyWarning(msg string) {
	for _, l := range c.snapshotListeners() {
		l.OnWarning(msg)
	}
}

func (c *Coordinator) notifySuccess(durationMS int64, metrics Metrics) {
	for _, l := range c.snapshotListeners() {
		l.OnSuccess(durationMS, metrics)
	}
}

func (c *Coordinator) notifyError(kind, msg string) {
	for _, l := range c.snapshotListeners() {
		l.OnError(kind, msg)
	}
}

func (c *Coordinator) notifyPerfAlert(metric string, value, threshold float64) {
	for _, l := range c.snapshotListeners() {
		l.OnPerfAlert(metric, value, threshold)
	}
}

// validate checks cfg against spec §4.11 point 1, emitting warnings for
// non-fatal conditions.
func (c *Coordinator) validate(cfg TargetConfig) error {
	switch cfg.Mode {
	case ModePersistent:
		if cfg.Dir == "" {
			return fmt.Errorf("%w: dir is required for a persistent target", ErrInvalidConfiguration)
		}
	case ModeUltra:
		if cfg.UltraMaxBytes < 1<<20 {
			return fmt.Errorf("%w: ultra max_bytes must be at least 1 MiB", ErrInvalidConfiguration)
		}
		if cfg.AutosaveMS > 0 {
			c.notifyWarning("autosave_ms is configured but has no effect in ultra mode")
		}
	default:
		return fmt.Errorf("%w: unrecognized target mode %d", ErrInvalidConfiguration, cfg.Mode)
	}
	return nil
}

// Switch migrates from source to the backing cfg describes, returning the
// new backend on success. On any failure it rolls back and source remains
// the backend the caller should keep using.
func (c *Coordinator) Switch(source Backend, cfg TargetConfig, hooks Hooks) (Backend, error) {
	start := time.Now()
	c.canceled.Store(false)

	c.setState(StateValidatingConfig)
	if err := c.validate(cfg); err != nil {
		c.setState(StateFailed)
		c.notifyError("InvalidConfiguration", err.Error())
		return nil, err
	}

	c.setState(StatePreparing)
	hooks.Quiesce(true)

	c.setState(StateSnapshotting)
	snapshot, err := snapshotBackend(source)
	if err != nil {
		c.notifyError("SnapshotFailed", err.Error())
		return nil, c.fail(nil, hooks, err)
	}

	target, err := hooks.NewBackend(cfg)
	if err != nil {
		c.notifyError("TargetOpenFailed", err.Error())
		return nil, c.fail(nil, hooks, err)
	}

	migStart := time.Now()
	if migErr := c.migrate(snapshot, target); migErr != nil {
		return nil, c.fail(target, hooks, migErr)
	}
	migElapsed := time.Since(migStart)

	c.setState(StateVerifying)
	sourceHash := contentHash(snapshot)
	targetHash, err := contentHashBackend(target)
	if err != nil {
		c.notifyError("VerifyFailed", err.Error())
		return nil, c.fail(target, hooks, err)
	}
	if targetHash != sourceHash {
		c.notifyError("VerificationFailed", "target content hash does not match source")
		return nil, c.fail(target, hooks, ErrVerificationFailed)
	}

	c.setState(StateCommitting)
	hooks.Swap(target)
	hooks.Quiesce(false)
	c.setState(StateDone)

	var rate float64
	if secs := migElapsed.Seconds(); secs > 0 {
		rate = float64(len(snapshot)) / secs
	}
	c.notifySuccess(time.Since(start).Milliseconds(), Metrics{
		EntriesMigrated: int64(len(snapshot)),
		Batches:         batchCount(len(snapshot), c.batchSize),
		AverageRate:     rate,
	})
	return target, nil
}

// migrate replays snapshot into target in batches, sampling performance and
// checking for cancellation at every batch boundary (spec §4.11 point 4).
func (c *Coordinator) migrate(snapshot []record, target Backend) error {
	c.setState(StateMigrating)
	total := int64(len(snapshot))

	var processed int64
	for start := 0; start < len(snapshot); start += c.batchSize {
		if c.canceled.Load() {
			return ErrCanceled
		}

		end := start + c.batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}

		batchStart := time.Now()
		for _, r := range snapshot[start:end] {
			if err := target.Put(r.key, r.value); err != nil {
				return fmt.Errorf("modeswitch: migrate: %w", err)
			}
		}
		processed += int64(end - start)
		batchElapsed := time.Since(batchStart)

		c.notifyProgress(processed, total, StateMigrating.String())

		if err := c.checkThresholds(end-start, batchElapsed); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) checkThresholds(batchLen int, elapsed time.Duration) error {
	t := c.thresholds

	if t.MaxBatchDuration > 0 && elapsed > t.MaxBatchDuration {
		c.notifyPerfAlert("batch_duration_ms", float64(elapsed.Milliseconds()), float64(t.MaxBatchDuration.Milliseconds()))
		return fmt.Errorf("%w: batch took %s", ErrPerfThresholdBreached, elapsed)
	}

	if t.MinEntriesPerSecond > 0 && elapsed > 0 {
		rate := float64(batchLen) / elapsed.Seconds()
		if rate < t.MinEntriesPerSecond {
			c.notifyPerfAlert("entries_per_second", rate, t.MinEntriesPerSecond)
			return fmt.Errorf("%w: rate %.1f/s below minimum %.1f/s", ErrPerfThresholdBreached, rate, t.MinEntriesPerSecond)
		}
	}

	if t.MaxHeapBytes > 0 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		if mem.Alloc > t.MaxHeapBytes {
			c.notifyPerfAlert("heap_bytes", float64(mem.Alloc), float64(t.MaxHeapBytes))
			return fmt.Errorf("%w: heap %d bytes over %d byte limit", ErrPerfThresholdBreached, mem.Alloc, t.MaxHeapBytes)
		}
	}

	return nil
}

// fail transitions to Failed and rolls back, returning the original cause
// wrapped with whatever the rollback itself reports.
func (c *Coordinator) fail(target Backend, hooks Hooks, cause error) error {
	c.setState(StateFailed)
	if err := c.rollback(target, hooks); err != nil {
		return fmt.Errorf("%w (after failure: %v)", err, cause)
	}
	return cause
}

// rollback restores source as the sole active backend: since source was
// never swapped out, this only needs to release queued writers and discard
// the partially built target. Discarding the target is the one step that
// can itself fail (spec §4.11 "Rollback").
func (c *Coordinator) rollback(target Backend, hooks Hooks) error {
	hooks.Quiesce(false)

	if target != nil {
		if err := target.Close(); err != nil {
			c.setState(StateRollbackFailed)
			c.notifyError("RollbackFailed", err.Error())
			return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		}
	}

	c.setState(StateRolledBack)
	return nil
}

func batchCount(total, batchSize int) int {
	if total == 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

package modeswitch

import (
	"sync"
	"testing"

	"github.com/browserdb/storageengine/internal/ultra"
)

// countingListener mirrors the teacher's CountingEventListener: it counts
// every notification kind without asserting on content.
type countingListener struct {
	mu          sync.Mutex
	progress    int
	warnings    int
	successes   int
	errors      int
	perfAlerts  int
	lastSuccess Metrics
	lastError   string
}

func (l *countingListener) OnProgress(processed, total int64, phase string) {
	l.mu.Lock()
	l.progress++
	l.mu.Unlock()
}

func (l *countingListener) OnWarning(msg string) {
	l.mu.Lock()
	l.warnings++
	l.mu.Unlock()
}

func (l *countingListener) OnSuccess(durationMS int64, metrics Metrics) {
	l.mu.Lock()
	l.successes++
	l.lastSuccess = metrics
	l.mu.Unlock()
}

func (l *countingListener) OnError(kind, msg string) {
	l.mu.Lock()
	l.errors++
	l.lastError = kind
	l.mu.Unlock()
}

func (l *countingListener) OnPerfAlert(metric string, value, threshold float64) {
	l.mu.Lock()
	l.perfAlerts++
	l.mu.Unlock()
}

func (l *countingListener) counts() (progress, warnings, successes, errs, perfAlerts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress, l.warnings, l.successes, l.errors, l.perfAlerts
}

// hookRig gives a test the minimal set of hook behavior: a single
// "current backend" slot, quiesce tracked but unenforced (these unit tests
// never race a writer against Switch).
type hookRig struct {
	mu        sync.Mutex
	quiesced  bool
	current   Backend
	newBackend func(TargetConfig) (Backend, error)
}

func (r *hookRig) hooks() Hooks {
	return Hooks{
		Quiesce: func(ro bool) {
			r.mu.Lock()
			r.quiesced = ro
			r.mu.Unlock()
		},
		Swap: func(b Backend) {
			r.mu.Lock()
			r.current = b
			r.mu.Unlock()
		},
		NewBackend: r.newBackend,
	}
}

func newUltraBackend(maxBytes int64) *UltraBackend {
	return &UltraBackend{Store: ultra.New(maxBytes)}
}

func seedBackend(t *testing.T, b Backend, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := []byte{byte('a' + i%26), byte(i / 26)}
		if err := b.Put(key, []byte("value")); err != nil {
			t.Fatalf("seed Put: %v", err)
		}
	}
}

func TestSwitchRejectsInvalidTargetConfig(t *testing.T) {
	c := New(Config{})
	source := newUltraBackend(1 << 20)

	_, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1024}, Hooks{
		Quiesce: func(bool) {},
		Swap:    func(Backend) {},
		NewBackend: func(TargetConfig) (Backend, error) {
			t.Fatal("NewBackend should not be called for an invalid configuration")
			return nil, nil
		},
	})
	if err == nil {
		t.Fatal("expected an error for an undersized ultra max_bytes")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", c.State())
	}
}

func TestSwitchUltraToUltraMigratesAllEntries(t *testing.T) {
	source := newUltraBackend(1 << 20)
	seedBackend(t, source, 50)

	rig := &hookRig{current: source}
	rig.newBackend = func(cfg TargetConfig) (Backend, error) {
		return newUltraBackend(cfg.UltraMaxBytes), nil
	}

	listener := &countingListener{}
	c := New(Config{BatchSize: 8})
	c.AddListener(listener)

	target, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 20}, rig.hooks())
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want Done", c.State())
	}

	got := target.(*UltraBackend).Store.Stats().KeyCount
	want := source.Store.Stats().KeyCount
	if got != want {
		t.Fatalf("migrated key count = %d, want %d", got, want)
	}

	progress, warnings, successes, errs, _ := listener.counts()
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if errs != 0 {
		t.Fatalf("errors = %d, want 0", errs)
	}
	if warnings != 0 {
		t.Fatalf("warnings = %d, want 0", warnings)
	}
	if progress == 0 {
		t.Fatal("expected at least one progress notification")
	}
	if listener.lastSuccess.EntriesMigrated != int64(want) {
		t.Fatalf("reported EntriesMigrated = %d, want %d", listener.lastSuccess.EntriesMigrated, want)
	}
}

func TestSwitchWarnsOnAutosaveWithUltraTarget(t *testing.T) {
	source := newUltraBackend(1 << 20)
	rig := &hookRig{current: source}
	rig.newBackend = func(cfg TargetConfig) (Backend, error) {
		return newUltraBackend(cfg.UltraMaxBytes), nil
	}

	listener := &countingListener{}
	c := New(Config{})
	c.AddListener(listener)

	_, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 20, AutosaveMS: 500}, rig.hooks())
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}

	_, warnings, _, _, _ := listener.counts()
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1", warnings)
	}
}

func TestSwitchRollsBackOnVerificationMismatch(t *testing.T) {
	source := newUltraBackend(1 << 20)
	seedBackend(t, source, 10)

	var closedTarget bool
	rig := &hookRig{current: source}
	rig.newBackend = func(cfg TargetConfig) (Backend, error) {
		target := newUltraBackend(cfg.UltraMaxBytes)
		// Poison the migration: seed the target with an extra key that the
		// source snapshot never had, so Verify's content hash can never match.
		if err := target.Put([]byte("poison"), []byte("value")); err != nil {
			t.Fatalf("poison Put: %v", err)
		}
		return &closingBackend{Backend: target, closed: &closedTarget}, nil
	}

	listener := &countingListener{}
	c := New(Config{})
	c.AddListener(listener)

	_, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 20}, rig.hooks())
	if err == nil {
		t.Fatal("expected a verification error")
	}
	if c.State() != StateRolledBack {
		t.Fatalf("state = %v, want RolledBack", c.State())
	}
	if !closedTarget {
		t.Fatal("expected the partially built target to be closed during rollback")
	}
	if rig.current != source {
		t.Fatal("hooks.Swap must not be called when the switch fails")
	}

	_, _, successes, errs, _ := listener.counts()
	if successes != 0 {
		t.Fatalf("successes = %d, want 0", successes)
	}
	if errs == 0 {
		t.Fatal("expected at least one error notification")
	}
}

func TestSwitchReturnsRollbackFailedWhenTargetCloseFails(t *testing.T) {
	source := newUltraBackend(1 << 20)
	seedBackend(t, source, 5)

	rig := &hookRig{current: source}
	rig.newBackend = func(cfg TargetConfig) (Backend, error) {
		target := newUltraBackend(cfg.UltraMaxBytes)
		if err := target.Put([]byte("poison"), []byte("value")); err != nil {
			t.Fatalf("poison Put: %v", err)
		}
		closed := true
		return &closingBackend{Backend: target, closed: &closed, closeErr: errClosingFailed}, nil
	}

	c := New(Config{})
	_, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 20}, rig.hooks())
	if err == nil {
		t.Fatal("expected an error")
	}
	if c.State() != StateRollbackFailed {
		t.Fatalf("state = %v, want RollbackFailed", c.State())
	}
}

func TestSwitchCancelStopsAtBatchBoundary(t *testing.T) {
	source := newUltraBackend(1 << 20)
	seedBackend(t, source, 100)

	rig := &hookRig{current: source}
	c := New(Config{BatchSize: 4})
	rig.newBackend = func(cfg TargetConfig) (Backend, error) {
		// Cancel takes effect once Switch is actually underway: Switch
		// clears any stale cancellation from a prior run on entry, so
		// requesting it here (after that reset, before Migrate's first
		// batch boundary) is what a caller racing Cancel against a running
		// switch actually looks like.
		c.Cancel()
		return newUltraBackend(cfg.UltraMaxBytes), nil
	}

	_, err := c.Switch(source, TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 20}, rig.hooks())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if c.State() != StateRolledBack {
		t.Fatalf("state = %v, want RolledBack", c.State())
	}
}

// closingBackend wraps a Backend to observe and optionally fail Close, for
// exercising the rollback path's own failure mode.
type closingBackend struct {
	Backend
	closed   *bool
	closeErr error
}

func (b *closingBackend) Close() error {
	*b.closed = true
	if b.closeErr != nil {
		return b.closeErr
	}
	return b.Backend.Close()
}

var errClosingFailed = &staticError{"modeswitch: simulated close failure"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }

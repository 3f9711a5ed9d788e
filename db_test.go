package storageengine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/browserdb/storageengine/internal/modeswitch"
)

func TestOpenCreatesAndReopens(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	v, err := db2.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get = %q, want %q", v, "v")
	}
}

func TestOpenSecondInstanceFailsWithLocked(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	_, err = Open(dir, Default())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open error = %v, want ErrLocked", err)
	}
	if KindOf(err) != KindLocked {
		t.Fatalf("KindOf = %v, want KindLocked", KindOf(err))
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	_, err = db.Get([]byte("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestPutRejectsOversizedKeyAndValue(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	oversizedKey := make([]byte, KeyMax+1)
	if err := db.Put(oversizedKey, []byte("v")); !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("Put with oversized key = %v, want ErrKeyTooLarge", err)
	}

	oversizedValue := make([]byte, ValueMax+1)
	if err := db.Put([]byte("k"), oversizedValue); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("Put with oversized value = %v, want ErrValueTooLarge", err)
	}
}

func TestOpenUltraRejectsUndersizedMaxBytes(t *testing.T) {
	_, err := OpenUltra(Config{UltraMaxBytes: 1024})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("OpenUltra error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestRangeReturnsAscendingLiveEntries(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := db.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Delete([]byte("k05")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	it := db.Range(nil, nil)
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != 9 {
		t.Fatalf("Range returned %d entries, want 9 (got %v)", len(got), got)
	}
	for i, k := range got {
		if i > 0 && k <= got[i-1] {
			t.Fatalf("Range not ascending: %v", got)
		}
	}
}

func TestSwitchModeUltraToUltraPreservesData(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := db.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := db.SwitchMode(modeswitch.TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 21}); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}

	if db.Stats().Mode != ModeUltra {
		t.Fatalf("Mode after switch = %v, want ModeUltra", db.Stats().Mode)
	}
	v, err := db.Get([]byte("k05"))
	if err != nil {
		t.Fatalf("Get after switch: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get after switch = %q, want %q", v, "v")
	}
}

func TestSwitchModeUltraToPersistent(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	dir := t.TempDir()
	if err := db.SwitchMode(modeswitch.TargetConfig{Mode: ModePersistent, Dir: dir}); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}

	if db.Stats().Mode != ModePersistent {
		t.Fatalf("Mode after switch = %v, want ModePersistent", db.Stats().Mode)
	}
	v, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get after switch: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("Get after switch = %q, want %q", v, "v")
	}
}

type countingListener struct {
	successes int
}

func (l *countingListener) OnProgress(processed, total int64, phase string) {}
func (l *countingListener) OnWarning(msg string)                           {}
func (l *countingListener) OnSuccess(durationMS int64, metrics modeswitch.Metrics) {
	l.successes++
}
func (l *countingListener) OnError(kind, msg string)                     {}
func (l *countingListener) OnPerfAlert(metric string, value, threshold float64) {}

func TestSwitchModeNotifiesListeners(t *testing.T) {
	db, err := OpenUltra(Config{UltraMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("OpenUltra: %v", err)
	}
	defer db.Close()

	l := &countingListener{}
	db.AddListener(l)

	if err := db.SwitchMode(modeswitch.TargetConfig{Mode: ModeUltra, UltraMaxBytes: 1 << 21}); err != nil {
		t.Fatalf("SwitchMode: %v", err)
	}
	if l.successes != 1 {
		t.Fatalf("successes = %d, want 1", l.successes)
	}
}

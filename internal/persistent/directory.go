// Package persistent implements the persistent-mode façade (C9): it binds
// an lsm.Engine to a directory, holding an exclusive lock on it for the
// engine's lifetime and driving the advisory autoflush ticker described in
// spec §4.9. lsm.Engine already does the hard part — table discovery,
// manifest parsing/reconstruction, the write/read/flush/compact paths — so
// this stays a thin wrapper, grounded in the teacher's db.Open (db/db.go)
// for the lock-then-load sequencing and cmd/stresstest/main.go's
// ticker/stop-channel idiom for the periodic task.
package persistent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/browserdb/storageengine/internal/config"
	"github.com/browserdb/storageengine/internal/iterator"
	"github.com/browserdb/storageengine/internal/lsm"
)

// ErrLocked is returned by Open when another process already holds the
// directory's lock (spec §5: "opening a locked directory fails with
// Locked").
var ErrLocked = errors.New("persistent: database directory is locked by another process")

const lockFileName = "LOCK"

// Directory is a persistent-mode database bound to a directory on disk.
type Directory struct {
	engine *lsm.Engine
	lock   io.Closer

	autosaveWG   sync.WaitGroup
	autosaveStop chan struct{}
}

// Open creates dir if needed, acquires the directory lock and opens the
// engine beneath dir, starting the autoflush ticker if cfg.AutosaveMS is
// nonzero.
func Open(dir string, cfg config.Config) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistent: create directory %s: %w", dir, err)
	}
	lock, err := lockDirectory(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}

	e, err := lsm.Open(dir, cfg)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	d := &Directory{
		engine:       e,
		lock:         lock,
		autosaveStop: make(chan struct{}),
	}
	if cfg.AutosaveMS > 0 {
		d.autosaveWG.Add(1)
		go d.autosaveLoop(time.Duration(cfg.AutosaveMS) * time.Millisecond)
	}
	return d, nil
}

// autosaveLoop calls Flush on a fixed cadence whenever the memtable is
// non-empty (spec §4.9: "Autoflush is advisory; it does not change the
// above durability contract"), so a failed autoflush's error is discarded,
// not propagated.
func (d *Directory) autosaveLoop(period time.Duration) {
	defer d.autosaveWG.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-d.autosaveStop:
			return
		case <-ticker.C:
			if d.engine.Stats().MemtableBytes > 0 {
				_ = d.engine.Flush()
			}
		}
	}
}

func (d *Directory) Put(key, value []byte) error { return d.engine.Put(key, value) }
func (d *Directory) Delete(key []byte) error      { return d.engine.Delete(key) }
func (d *Directory) Get(key []byte) ([]byte, error) { return d.engine.Get(key) }

func (d *Directory) Range(lo, hi []byte) *iterator.MergingIterator { return d.engine.Range(lo, hi) }

func (d *Directory) Flush() error          { return d.engine.Flush() }
func (d *Directory) Compact(level int) error { return d.engine.Compact(level) }
func (d *Directory) Stats() lsm.Stats      { return d.engine.Stats() }

// SetReadOnly toggles the engine's read-only state for the mode-switch
// coordinator's Prepare phase (spec §4.11 point 2); while it is set, Put and
// Delete return lsm.ErrReadOnly.
func (d *Directory) SetReadOnly(ro bool) { d.engine.SetReadOnly(ro) }

// Close stops the autoflush ticker, closes the engine, and releases the
// directory lock. It does not flush the current memtable.
func (d *Directory) Close() error {
	close(d.autosaveStop)
	d.autosaveWG.Wait()

	engineErr := d.engine.Close()
	lockErr := d.lock.Close()
	if engineErr != nil {
		return engineErr
	}
	return lockErr
}

// Package storageengine is the embeddable key-value storage engine's public
// entry point (spec §6 "Engine API"): Open a persistent database or OpenUltra
// a bounded in-memory one, then Put/Delete/Get/Range/Flush/Compact/Stats/
// Close it like any other embedded store. SwitchMode transitions a live DB
// between the two backings without callers observing a partially migrated
// state (spec §4.11).
package storageengine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/browserdb/storageengine/internal/config"
	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/lsm"
	"github.com/browserdb/storageengine/internal/modeswitch"
	"github.com/browserdb/storageengine/internal/persistent"
	"github.com/browserdb/storageengine/internal/ultra"
)

// Config re-exports the engine's tunables so callers never need to import
// internal/config directly.
type Config = config.Config

// Default returns Config's documented defaults (spec §6 "Configuration options").
func Default() Config { return config.Default() }

// KeyMax and ValueMax are the size bounds every Put/Delete enforces
// regardless of backing (spec §3).
const (
	KeyMax   = config.KeyMax
	ValueMax = config.ValueMax
)

// Mode names which backing a DB currently uses.
type Mode = modeswitch.Mode

const (
	ModePersistent = modeswitch.ModePersistent
	ModeUltra      = modeswitch.ModeUltra
)

// RangeIterator is the cursor DB.Range returns: a lazy, finite, restartable
// walk over live entries in ascending key order, snapshot-consistent as of
// the Range call (spec §4.8).
type RangeIterator = modeswitch.RangeIterator

// Stats unifies the persistent engine's and the ultra store's diagnostics
// (spec §4.8 `stats`) into one shape; fields that don't apply to the
// current Mode are left zero.
type Stats struct {
	Mode Mode

	// Persistent-mode fields.
	MemtableBytes int64
	LevelTables   []int
	LevelBytes    []int64
	NextSequence  uint64
	HotKeys       int

	// Ultra-mode fields.
	UsedBytes int64
	MaxBytes  int64
	KeyCount  int
}

// backend is the root package's view of whichever mode is currently active:
// enough to serve every DB method plus hand the mode-switch coordinator its
// own, narrower modeswitch.Backend view.
type backend interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Get(key []byte) ([]byte, error)
	Range(lo, hi []byte) RangeIterator
	Flush() error
	Compact(level int) error
	Stats() Stats
	SetReadOnly(ro bool)
	Close() error
	modeSwitchBackend() modeswitch.Backend
}

// DB is a single open storage engine, backed by either the persistent
// engine or the ultra-mode store. The zero value is not usable; construct
// one with Open or OpenUltra.
type DB struct {
	switchMu    sync.Mutex // serializes SwitchMode calls; Switch itself is not reentrant
	current     atomic.Pointer[backend]
	coordinator *modeswitch.Coordinator
}

// Open opens or creates a persistent database rooted at dir (spec §6 `open`).
func Open(dir string, cfg Config) (*DB, error) {
	d, err := persistent.Open(dir, cfg)
	if err != nil {
		return nil, translateOpenErr(err)
	}
	return newDB(&persistentHandle{dir: d}), nil
}

// OpenUltra opens a bounded, in-memory-only database (spec §6 `open_ultra`).
// cfg.UltraMaxBytes must be at least 1 MiB.
func OpenUltra(cfg Config) (*DB, error) {
	if cfg.UltraMaxBytes < 1<<20 {
		return nil, newErr(KindInvalidConfiguration, "ultra_max_bytes must be at least 1 MiB")
	}
	return newDB(&ultraHandle{store: ultra.New(cfg.UltraMaxBytes)}), nil
}

func newDB(b backend) *DB {
	db := &DB{coordinator: modeswitch.New(modeswitch.Config{})}
	db.current.Store(&b)
	return db
}

func (db *DB) active() backend {
	return *db.current.Load()
}

// Put inserts or overwrites key's value (spec §4.8 `put`).
func (db *DB) Put(key, value []byte) error {
	if len(key) > KeyMax {
		return ErrKeyTooLarge
	}
	if len(value) > ValueMax {
		return ErrValueTooLarge
	}
	return db.active().Put(key, value)
}

// Delete inserts a tombstone for key (spec §4.8 `delete`).
func (db *DB) Delete(key []byte) error {
	if len(key) > KeyMax {
		return ErrKeyTooLarge
	}
	return db.active().Delete(key)
}

// Get resolves key's current value, or ErrNotFound if it is absent
// (spec §4.8 `get`). Absence is the normal case, not a fault: callers
// should check errors.Is(err, storageengine.ErrNotFound) rather than
// treating any error as exceptional.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.active().Get(key)
}

// Range returns a snapshot-consistent iterator over [lo, hi) in ascending
// key order; a nil lo or hi is unbounded on that side (spec §4.8 `range`).
func (db *DB) Range(lo, hi []byte) RangeIterator {
	return db.active().Range(lo, hi)
}

// Flush forces the current memtable to become a durable sorted table,
// returning once it is. A no-op in ultra mode (spec §4.10).
func (db *DB) Flush() error {
	return db.active().Flush()
}

// Compact runs a compaction at level, or at whichever level has the most
// pressing work when level is negative. A no-op in ultra mode.
func (db *DB) Compact(level int) error {
	return db.active().Compact(level)
}

// Stats reports the current backing's diagnostics.
func (db *DB) Stats() Stats {
	return db.active().Stats()
}

// Close releases the database's resources. After Close, Put, Delete and Get
// on a persistent database return an error; Range, Flush, Compact and Stats
// do not check for a closed engine. An ultra database is emptied by Close
// and keeps accepting calls.
func (db *DB) Close() error {
	return db.active().Close()
}

// SwitchMode migrates the database to the backing cfg describes, without
// any caller observing a partially migrated state (spec §4.11). Listeners
// registered with AddListener receive the coordinator's progress,
// warning, success, error, and perf_alert notifications for this switch.
func (db *DB) SwitchMode(cfg modeswitch.TargetConfig) error {
	db.switchMu.Lock()
	defer db.switchMu.Unlock()

	source := db.active()

	// target is filled in by NewBackend and read back by Swap: the
	// coordinator only ever hands Swap the modeswitch.Backend view it was
	// given, not the root handle that owns Stats/Flush/Compact, so the two
	// hooks share it through this closure instead of a type assertion.
	var target backend

	hooks := modeswitch.Hooks{
		Quiesce: source.SetReadOnly,
		Swap: func(modeswitch.Backend) {
			db.current.Store(&target)
		},
		NewBackend: func(cfg modeswitch.TargetConfig) (modeswitch.Backend, error) {
			b, err := openBackend(cfg)
			if err != nil {
				return nil, err
			}
			target = b
			return b.modeSwitchBackend(), nil
		},
	}

	_, err := db.coordinator.Switch(source.modeSwitchBackend(), cfg, hooks)
	if err != nil {
		return translateModeSwitchErr(err)
	}
	return nil
}

// AddListener registers l to receive every subsequent SwitchMode's
// notifications.
func (db *DB) AddListener(l modeswitch.Listener) {
	db.coordinator.AddListener(l)
}

func openBackend(cfg modeswitch.TargetConfig) (backend, error) {
	switch cfg.Mode {
	case modeswitch.ModePersistent:
		d, err := persistent.Open(cfg.Dir, defaultConfigFor(cfg))
		if err != nil {
			return nil, translateOpenErr(err)
		}
		return &persistentHandle{dir: d}, nil
	case modeswitch.ModeUltra:
		return &ultraHandle{store: ultra.New(cfg.UltraMaxBytes)}, nil
	default:
		return nil, newErr(KindInvalidConfiguration, fmt.Sprintf("unrecognized mode %d", cfg.Mode))
	}
}

// defaultConfigFor fills in the config.Config fields a freshly opened
// persistent target needs beyond what TargetConfig itself carries; every
// other tunable takes spec's documented default.
func defaultConfigFor(cfg modeswitch.TargetConfig) config.Config {
	c := config.Default()
	c.AutosaveMS = cfg.AutosaveMS
	return c
}

// backend implementations.

type persistentHandle struct {
	dir *persistent.Directory
}

func (h *persistentHandle) Put(key, value []byte) error {
	return translateWriteErr(h.dir.Put(key, value))
}

func (h *persistentHandle) Delete(key []byte) error {
	return translateWriteErr(h.dir.Delete(key))
}

func (h *persistentHandle) Get(key []byte) ([]byte, error) {
	v, err := h.dir.Get(key)
	if errors.Is(err, lsm.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translateWriteErr(err)
	}
	return v, nil
}

func (h *persistentHandle) Range(lo, hi []byte) RangeIterator {
	return h.dir.Range(lo, hi)
}

func (h *persistentHandle) Flush() error           { return translateWriteErr(h.dir.Flush()) }
func (h *persistentHandle) Compact(level int) error { return translateWriteErr(h.dir.Compact(level)) }

func (h *persistentHandle) Stats() Stats {
	s := h.dir.Stats()
	return Stats{
		Mode:          ModePersistent,
		MemtableBytes: s.MemtableBytes,
		LevelTables:   s.LevelTables,
		LevelBytes:    s.LevelBytes,
		NextSequence:  uint64(s.NextSequence),
		HotKeys:       s.HotKeys,
	}
}

func (h *persistentHandle) SetReadOnly(ro bool) { h.dir.SetReadOnly(ro) }
func (h *persistentHandle) Close() error        { return translateWriteErr(h.dir.Close()) }

func (h *persistentHandle) modeSwitchBackend() modeswitch.Backend {
	return &modeswitch.PersistentBackend{Dir: h.dir}
}

type ultraHandle struct {
	store *ultra.Store
}

func (h *ultraHandle) Put(key, value []byte) error { return h.store.Put(key, value) }
func (h *ultraHandle) Delete(key []byte) error      { return h.store.Delete(key) }

func (h *ultraHandle) Get(key []byte) ([]byte, error) {
	v, ok := h.store.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (h *ultraHandle) Range(lo, hi []byte) RangeIterator { return h.store.Range(lo, hi) }
func (h *ultraHandle) Flush() error                       { return h.store.Flush() }
func (h *ultraHandle) Compact(level int) error            { return h.store.Compact(level) }

func (h *ultraHandle) Stats() Stats {
	s := h.store.Stats()
	return Stats{
		Mode:      ModeUltra,
		UsedBytes: s.UsedBytes,
		MaxBytes:  s.MaxBytes,
		KeyCount:  s.KeyCount,
	}
}

func (h *ultraHandle) SetReadOnly(ro bool) { h.store.SetReadOnly(ro) }
func (h *ultraHandle) Close() error        { return h.store.Close() }

func (h *ultraHandle) modeSwitchBackend() modeswitch.Backend {
	return &modeswitch.UltraBackend{Store: h.store}
}

// error translation.

func translateOpenErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistent.ErrLocked) {
		return wrapErr(KindLocked, "database directory is locked", err)
	}
	return wrapErr(KindIO, "open failed", err)
}

func translateWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var corrupt *container.CorruptError
	switch {
	case errors.Is(err, lsm.ErrKeyTooLarge):
		return ErrKeyTooLarge
	case errors.Is(err, lsm.ErrValueTooLarge):
		return ErrValueTooLarge
	case errors.Is(err, lsm.ErrReadOnly):
		return ErrReadOnly
	case errors.Is(err, lsm.ErrNotFound):
		return ErrNotFound
	case errors.As(err, &corrupt):
		return wrapErr(KindCorruption, "checksum failure", err)
	default:
		return wrapErr(KindIO, "engine operation failed", err)
	}
}

func translateModeSwitchErr(err error) error {
	var already *Error
	if errors.As(err, &already) {
		// openBackend already produced a well-typed *Error (e.g. Locked
		// from a persistent target directory); don't flatten it to IO.
		return already
	}
	switch {
	case errors.Is(err, modeswitch.ErrInvalidConfiguration):
		return wrapErr(KindInvalidConfiguration, "invalid mode-switch target", err)
	case errors.Is(err, modeswitch.ErrVerificationFailed):
		return wrapErr(KindIO, "mode switch verification failed", err)
	case errors.Is(err, modeswitch.ErrCanceled):
		return wrapErr(KindIO, "mode switch canceled", err)
	case errors.Is(err, modeswitch.ErrPerfThresholdBreached):
		return wrapErr(KindIO, "mode switch aborted by a performance threshold", err)
	case errors.Is(err, modeswitch.ErrRollbackFailed):
		return wrapErr(KindRollbackFailed, "mode switch rollback failed; engine requires external intervention", err)
	default:
		return wrapErr(KindIO, "mode switch failed", err)
	}
}

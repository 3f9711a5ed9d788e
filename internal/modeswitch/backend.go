// Package modeswitch implements the mode-switch coordinator (C11): it drives
// a backing transition (persistent <-> ultra) through the state machine
// spec §4.11 describes, without the caller ever observing a partially
// migrated engine.
//
// The tagged-notification listener model below is grounded in the teacher's
// EventListener (event_listener.go): one interface method per event kind,
// delivered synchronously from the coordinator's own goroutine, with a
// NoOpListener a caller can embed to pick only the events it cares about.
package modeswitch

import (
	"errors"

	"github.com/browserdb/storageengine/internal/lsm"
	"github.com/browserdb/storageengine/internal/persistent"
	"github.com/browserdb/storageengine/internal/ultra"
)

// RangeIterator is the common shape of persistent and ultra range iterators,
// satisfied by *iterator.MergingIterator and *ultra.Iterator without
// modification.
type RangeIterator interface {
	SeekToFirst()
	Seek(key []byte)
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Err() error
}

// Backend is the operations the coordinator needs from whichever engine is
// currently active, persistent or ultra, so it can migrate between them
// without caring which is which.
type Backend interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Get(key []byte) (value []byte, found bool, err error)
	Range(lo, hi []byte) RangeIterator
	Close() error
}

// PersistentBackend adapts *persistent.Directory to Backend.
type PersistentBackend struct {
	Dir *persistent.Directory
}

func (b *PersistentBackend) Put(key, value []byte) error { return b.Dir.Put(key, value) }
func (b *PersistentBackend) Delete(key []byte) error      { return b.Dir.Delete(key) }

func (b *PersistentBackend) Get(key []byte) ([]byte, bool, error) {
	v, err := b.Dir.Get(key)
	if errors.Is(err, lsm.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *PersistentBackend) Range(lo, hi []byte) RangeIterator { return b.Dir.Range(lo, hi) }
func (b *PersistentBackend) Close() error                      { return b.Dir.Close() }

// UltraBackend adapts *ultra.Store to Backend.
type UltraBackend struct {
	Store *ultra.Store
}

func (b *UltraBackend) Put(key, value []byte) error { return b.Store.Put(key, value) }
func (b *UltraBackend) Delete(key []byte) error      { return b.Store.Delete(key) }

func (b *UltraBackend) Get(key []byte) ([]byte, bool, error) {
	v, ok := b.Store.Get(key)
	return v, ok, nil
}

func (b *UltraBackend) Range(lo, hi []byte) RangeIterator { return b.Store.Range(lo, hi) }
func (b *UltraBackend) Close() error                      { return b.Store.Close() }

package lsm

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/manifest"
	"github.com/browserdb/storageengine/internal/memtable"
	"github.com/browserdb/storageengine/internal/sstable"
)

// flushLoop waits for a frozen memtable to appear and flushes it, retrying
// with backoff on failure (spec §4.8 failure policy: "re-queued with
// backoff unless the engine is shutting down").
func (e *Engine) flushLoop() {
	defer e.bgWG.Done()

	backoff := time.Millisecond * 50
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.flushCh:
		}

		for {
			e.writeMu.Lock()
			imm := e.imm
			e.writeMu.Unlock()
			if imm == nil {
				break
			}
			if err := e.doFlush(imm); err != nil {
				e.logger.Error("flush failed, retrying", "err", err)
				select {
				case <-e.stopCh:
					return
				case <-time.After(backoff):
				}
				if backoff < time.Second*5 {
					backoff *= 2
				}
				continue
			}
			backoff = time.Millisecond * 50
			break
		}
	}
}

// doFlush drains imm in key order, writes a new L0 sorted table, publishes
// an updated manifest, and releases imm (spec §4.8 "Flush task").
func (e *Engine) doFlush(imm *memtable.Memtable) error {
	records := imm.DrainSorted()
	if len(records) == 0 {
		e.clearImm()
		return nil
	}

	builder := sstable.NewBuilder(sstable.BuilderOptions{
		IndexStride: e.cfg.IndexStride,
		BloomFPRate: e.cfg.BloomFPRate,
		Compression: e.cfg.Compression,
	})
	for _, r := range records {
		if err := builder.Add(r.Key, r.Value); err != nil {
			return fmt.Errorf("lsm: flush: build table: %w", err)
		}
	}

	gen := e.nextGen.Add(1)
	path := filepath.Join(e.dir, tableFileName(gen))
	if err := builder.Finish(path); err != nil {
		return fmt.Errorf("lsm: flush: write table %06d: %w", gen, err)
	}
	t, err := sstable.Open(path, gen, 0)
	if err != nil {
		return fmt.Errorf("lsm: flush: open table %06d: %w", gen, err)
	}

	e.levelsMu.Lock()
	e.levels[0] = append(e.levels[0], t)
	err = e.saveManifestLocked()
	if err != nil {
		// Roll back the in-memory publication: the manifest, not the level
		// slice, is the durable source of truth, so the old table set is
		// still the live one on disk.
		e.levels[0] = e.levels[0][:len(e.levels[0])-1]
	}
	e.levelsMu.Unlock()
	if err != nil {
		return fmt.Errorf("lsm: flush: publish manifest: %w", err)
	}

	e.clearImm()

	if len(e.levels[0]) > e.cfg.L0MaxTables {
		select {
		case e.compCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (e *Engine) clearImm() {
	e.writeMu.Lock()
	e.imm = nil
	e.immCond.Broadcast()
	e.writeMu.Unlock()
}

// saveManifestLocked writes the manifest reflecting the engine's current
// live tables. The caller must hold levelsMu for writing.
func (e *Engine) saveManifestLocked() error {
	var state manifest.State
	state.NextSequence = dbformat.SequenceNumber(e.seq.Load() + 1)
	for level, tables := range e.levels {
		for _, t := range tables {
			state.Tables = append(state.Tables, manifest.TableInfo{
				Generation: t.Generation,
				Level:      level,
				MinKey:     t.MinKey,
				MaxKey:     t.MaxKey,
				ByteSize:   t.ByteSize,
				EntryCount: t.EntryCount(),
			})
		}
	}
	return manifest.Save(filepath.Join(e.dir, manifestFileName), state)
}

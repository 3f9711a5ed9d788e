// Package manifest records which sorted tables are live and at what level,
// plus the next sequence number to hand out, so the engine can reopen a
// directory without rescanning every table's contents (spec §4.9 "persist
// the set of live tables, their levels, and the next sequence number").
//
// A manifest is a .bdb Snapshot-kind file (internal/container): one entry
// per live table, keyed by its generation, plus a single sentinel entry
// (identified by an empty key) carrying the next sequence number. The whole
// file is rewritten and atomically renamed into place on every update,
// mirroring the teacher's RocksDB-derived VersionEdit format but flattened
// to the handful of fields this engine actually needs instead of a tagged,
// incrementally-appended edit log.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
	"github.com/browserdb/storageengine/internal/encoding"
)

// TableInfo describes one live sorted table (spec §4.9: "generation, level,
// min_key, max_key").
type TableInfo struct {
	Generation uint64
	Level      int
	MinKey     []byte
	MaxKey     []byte
	ByteSize   int64
	EntryCount uint64
}

// State is the full durable state a manifest captures.
type State struct {
	NextSequence dbformat.SequenceNumber
	Tables       []TableInfo
}

// Encode serializes s into a complete .bdb Snapshot-kind file.
func Encode(s State) []byte {
	w := container.NewWriter(container.KindSnapshot)

	// Sentinel entry carrying the next sequence number: an empty key
	// never collides with a real table's fixed8-byte generation key.
	w.Add(container.Entry{
		Kind:     container.EntryPut,
		Sequence: uint64(s.NextSequence),
	})

	tables := append([]TableInfo(nil), s.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Generation < tables[j].Generation })
	for _, t := range tables {
		w.Add(container.Entry{
			Kind:     container.EntryPut,
			Sequence: uint64(t.Level),
			Key:      encoding.AppendFixed64(nil, t.Generation),
			Value:    encodeTableValue(t),
		})
	}

	return w.Finish(container.FinishOptions{CreatedMS: time.Now().UnixMilli()})
}

func encodeTableValue(t TableInfo) []byte {
	var dst []byte
	dst = encoding.AppendVarint(dst, uint64(len(t.MinKey)))
	dst = append(dst, t.MinKey...)
	dst = encoding.AppendVarint(dst, uint64(len(t.MaxKey)))
	dst = append(dst, t.MaxKey...)
	dst = encoding.AppendVarint(dst, uint64(t.ByteSize))
	dst = encoding.AppendVarint(dst, t.EntryCount)
	return dst
}

func decodeTableValue(src []byte) (minKey, maxKey []byte, byteSize int64, entryCount uint64, err error) {
	minLen, n, err := encoding.GetVarint(src)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("manifest: decode min_key length: %w", err)
	}
	off := n
	if off+int(minLen) > len(src) {
		return nil, nil, 0, 0, fmt.Errorf("manifest: min_key truncated")
	}
	minKey = src[off : off+int(minLen)]
	off += int(minLen)

	maxLen, n, err := encoding.GetVarint(src[off:])
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("manifest: decode max_key length: %w", err)
	}
	off += n
	if off+int(maxLen) > len(src) {
		return nil, nil, 0, 0, fmt.Errorf("manifest: max_key truncated")
	}
	maxKey = src[off : off+int(maxLen)]
	off += int(maxLen)

	size, n, err := encoding.GetVarint(src[off:])
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("manifest: decode byte_size: %w", err)
	}
	off += n
	byteSize = int64(size)

	count, _, err := encoding.GetVarint(src[off:])
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("manifest: decode entry_count: %w", err)
	}
	entryCount = count

	return minKey, maxKey, byteSize, entryCount, nil
}

// Decode parses a manifest file's raw contents back into a State.
func Decode(raw []byte) (State, error) {
	f, err := container.Open(raw)
	if err != nil {
		return State{}, fmt.Errorf("manifest: %w", err)
	}
	if f.Header.Kind != container.KindSnapshot {
		return State{}, fmt.Errorf("manifest: file is not a snapshot container (kind %d)", f.Header.Kind)
	}

	var s State
	cur := f.NewCursor(0)
	for {
		e, ok, err := cur.Next()
		if err != nil {
			return State{}, fmt.Errorf("manifest: read entry: %w", err)
		}
		if !ok {
			break
		}
		if len(e.Key) == 0 {
			s.NextSequence = dbformat.SequenceNumber(e.Sequence)
			continue
		}
		if len(e.Key) != 8 {
			return State{}, fmt.Errorf("manifest: malformed table key (want 8 bytes, got %d)", len(e.Key))
		}
		minKey, maxKey, byteSize, entryCount, err := decodeTableValue(e.Value)
		if err != nil {
			return State{}, err
		}
		s.Tables = append(s.Tables, TableInfo{
			Generation: encoding.DecodeFixed64(e.Key),
			Level:      int(e.Sequence),
			MinKey:     minKey,
			MaxKey:     maxKey,
			ByteSize:   byteSize,
			EntryCount: entryCount,
		})
	}

	return s, nil
}

// Save atomically writes s to path: the bytes land at path+".tmp", get
// fsync'd, then are renamed into place, so a crash mid-write never leaves a
// half-written manifest visible under its final name (spec §4.3 durability,
// mirrored from the sorted table writer's own tmp+fsync+rename sequence).
func Save(path string, s State) error {
	raw := Encode(s)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Load reads and parses the manifest at path. A missing file is reported via
// the wrapped os.IsNotExist error so callers can fall back to directory scan
// reconstruction (spec §4.9 point 2) instead of treating it as corruption.
func Load(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	return Decode(raw)
}

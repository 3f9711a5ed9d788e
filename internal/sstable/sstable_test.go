package sstable

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/browserdb/storageengine/internal/compression"
	"github.com/browserdb/storageengine/internal/container"
	"github.com/browserdb/storageengine/internal/dbformat"
)

// buildSnapshotContainer returns a structurally valid .bdb container whose
// Kind is KindSnapshot rather than KindSSTable, for asserting that Open
// rejects the wrong container kind.
func buildSnapshotContainer(t *testing.T) []byte {
	t.Helper()
	w := container.NewWriter(container.KindSnapshot)
	key := dbformat.NewInternalKey([]byte("gen"), 1, dbformat.KindPut)
	w.Add(container.Entry{Kind: container.EntryPut, Sequence: 1, Key: key, Value: []byte("1")})
	return w.Finish(container.FinishOptions{CreatedMS: time.Now().UnixMilli()})
}

func buildTable(t *testing.T, opts BuilderOptions, records []dbformat.InternalKey, values [][]byte) string {
	t.Helper()
	b := NewBuilder(opts)
	for i, k := range records {
		if err := b.Add(k, values[i]); err != nil {
			t.Fatalf("Add(%q) error: %v", k.UserKey(), err)
		}
	}
	path := filepath.Join(t.TempDir(), "000001.bdb")
	if err := b.Finish(path); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	return path
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	b := NewBuilder(DefaultBuilderOptions())
	if err := b.Add(dbformat.NewInternalKey([]byte("b"), 1, dbformat.KindPut), []byte("v")); err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	if err := b.Add(dbformat.NewInternalKey([]byte("a"), 2, dbformat.KindPut), []byte("v")); err == nil {
		t.Fatal("Add() with out-of-order key: got nil error")
	}
}

func TestBuilderReaderRoundtrip(t *testing.T) {
	keys := []dbformat.InternalKey{
		dbformat.NewInternalKey([]byte("apple"), 1, dbformat.KindPut),
		dbformat.NewInternalKey([]byte("banana"), 2, dbformat.KindPut),
		dbformat.NewInternalKey([]byte("cherry"), 3, dbformat.KindTombstone),
		dbformat.NewInternalKey([]byte("date"), 4, dbformat.KindPut),
	}
	values := [][]byte{[]byte("fruit1"), []byte("fruit2"), nil, []byte("fruit4")}

	path := buildTable(t, DefaultBuilderOptions(), keys, values)

	tbl, err := Open(path, 1, 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if tbl.EntryCount() != 4 {
		t.Errorf("EntryCount() = %d, want 4", tbl.EntryCount())
	}
	if !bytes.Equal(tbl.MinKey, []byte("apple")) || !bytes.Equal(tbl.MaxKey, []byte("date")) {
		t.Errorf("MinKey/MaxKey = %q/%q, want apple/date", tbl.MinKey, tbl.MaxKey)
	}

	v, status, err := tbl.Get([]byte("banana"), compression.None)
	if err != nil || status != Found || !bytes.Equal(v, []byte("fruit2")) {
		t.Errorf("Get(banana) = (%q, %v, %v), want (fruit2, Found, nil)", v, status, err)
	}

	_, status, err = tbl.Get([]byte("cherry"), compression.None)
	if err != nil || status != Tombstone {
		t.Errorf("Get(cherry) = (%v, %v), want (Tombstone, nil)", status, err)
	}

	_, status, err = tbl.Get([]byte("missing"), compression.None)
	if err != nil || status != Absent {
		t.Errorf("Get(missing) = (%v, %v), want (Absent, nil)", status, err)
	}
}

func TestTableMayContainRejectsOutOfRangeKeys(t *testing.T) {
	keys := []dbformat.InternalKey{
		dbformat.NewInternalKey([]byte("m"), 1, dbformat.KindPut),
	}
	path := buildTable(t, DefaultBuilderOptions(), keys, [][]byte{[]byte("v")})

	tbl, err := Open(path, 1, 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	_, status, err := tbl.Get([]byte("a"), compression.None)
	if err != nil || status != Absent {
		t.Errorf("Get(a) out of range = (%v, %v), want (Absent, nil)", status, err)
	}
}

func TestTableCompressedValues(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.Compression = compression.LZ4

	value := bytes.Repeat([]byte("compress-me "), 200)
	keys := []dbformat.InternalKey{dbformat.NewInternalKey([]byte("key"), 1, dbformat.KindPut)}
	path := buildTable(t, opts, keys, [][]byte{value})

	tbl, err := Open(path, 1, 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	got, status, err := tbl.Get([]byte("key"), compression.LZ4)
	if err != nil || status != Found {
		t.Fatalf("Get() = (%v, %v), want (Found, nil)", status, err)
	}
	if !bytes.Equal(got, value) {
		t.Error("decompressed value does not match original")
	}
}

func TestTableSparseIndexManyEntries(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.IndexStride = 4

	const n = 100
	keys := make([]dbformat.InternalKey, n)
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		keys[i] = dbformat.NewInternalKey(key, dbformat.SequenceNumber(i+1), dbformat.KindPut)
		values[i] = []byte{byte(i)}
	}
	path := buildTable(t, opts, keys, values)

	tbl, err := Open(path, 1, 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		v, status, err := tbl.Get(key, compression.None)
		if err != nil || status != Found || len(v) != 1 || v[0] != byte(i) {
			t.Fatalf("Get(%d) = (%v, %v, %v), want value [%d]", i, v, status, err, i)
		}
	}
}

func TestIteratorAscendingOrder(t *testing.T) {
	keys := []dbformat.InternalKey{
		dbformat.NewInternalKey([]byte("a"), 1, dbformat.KindPut),
		dbformat.NewInternalKey([]byte("m"), 2, dbformat.KindPut),
		dbformat.NewInternalKey([]byte("z"), 3, dbformat.KindPut),
	}
	values := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	path := buildTable(t, DefaultBuilderOptions(), keys, values)

	tbl, err := Open(path, 1, 0)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	it := tbl.NewIterator(compression.None)
	var got []string
	for it.Next(); it.Valid(); it.Next() {
		got = append(got, string(it.Key().UserKey()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	want := []string{"a", "m", "z"}
	if len(got) != len(want) {
		t.Fatalf("iterated %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOpenRejectsNonSSTableContainer(t *testing.T) {
	// A manifest-kind container should be rejected by sstable.Open even
	// though it's a structurally valid .bdb file.
	path := filepath.Join(t.TempDir(), "MANIFEST.bdb")
	if err := os.WriteFile(path, buildSnapshotContainer(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 1, 0); err == nil {
		t.Fatal("Open() on a Snapshot-kind container: got nil error")
	}
}

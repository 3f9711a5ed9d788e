package ultra

import (
	"fmt"
	"testing"
)

func TestNewStore(t *testing.T) {
	s := New(1024)
	stats := s.Stats()
	if stats.MaxBytes != 1024 {
		t.Errorf("MaxBytes = %d, want 1024", stats.MaxBytes)
	}
	if stats.KeyCount != 0 {
		t.Errorf("KeyCount = %d, want 0", stats.KeyCount)
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := New(1024)

	if err := s.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	v, ok := s.Get([]byte("a"))
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if string(v) != "1" {
		t.Errorf("Get() = %q, want %q", v, "1")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	s := New(1024)
	if _, ok := s.Get([]byte("missing")); ok {
		t.Error("Get() hit, want miss")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	s := New(1024)
	s.Put([]byte("k"), []byte("v1"))
	s.Put([]byte("k"), []byte("v2"))

	v, ok := s.Get([]byte("k"))
	if !ok || string(v) != "v2" {
		t.Errorf("Get() = %q, %v, want %q, true", v, ok, "v2")
	}
	if s.Stats().KeyCount != 1 {
		t.Errorf("KeyCount = %d, want 1", s.Stats().KeyCount)
	}
}

func TestDeleteMakesKeyAbsent(t *testing.T) {
	s := New(1024)
	s.Put([]byte("k"), []byte("v"))
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Get([]byte("k")); ok {
		t.Error("Get() hit after Delete(), want miss")
	}
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	s := New(1024)
	if err := s.Delete([]byte("missing")); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

func TestEvictsLeastRecentlyUsedFirst(t *testing.T) {
	// Each key/value pair below charges 2 bytes (1-byte key + 1-byte value);
	// a 6-byte cap holds exactly three of them.
	s := New(6)

	s.Put([]byte("a"), []byte("1"))
	s.Put([]byte("b"), []byte("2"))
	s.Put([]byte("c"), []byte("3"))

	// Touch "a" so "b" becomes the least recently used entry.
	s.Get([]byte("a"))

	s.Put([]byte("d"), []byte("4"))

	if _, ok := s.Get([]byte("b")); ok {
		t.Error("Get(b) hit, want evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := s.Get([]byte(k)); !ok {
			t.Errorf("Get(%s) miss, want hit", k)
		}
	}
}

func TestRangeReturnsAscendingKeysWithinBounds(t *testing.T) {
	s := New(1 << 20)
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		s.Put([]byte(k), []byte(k+"-v"))
	}

	it := s.Range([]byte("b"), []byte("e"))
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRangeUnboundedCoversEverything(t *testing.T) {
	s := New(1 << 20)
	for i := 0; i < 5; i++ {
		s.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}
	it := s.Range(nil, nil)
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestRangeIsSnapshotConsistent(t *testing.T) {
	s := New(1 << 20)
	s.Put([]byte("a"), []byte("1"))
	s.Put([]byte("b"), []byte("2"))

	it := s.Range(nil, nil)
	s.Put([]byte("c"), []byte("3"))
	s.Delete([]byte("a"))

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFlushAndCompactAreNoops(t *testing.T) {
	s := New(1024)
	if err := s.Flush(); err != nil {
		t.Errorf("Flush() error = %v, want nil", err)
	}
	if err := s.Compact(0); err != nil {
		t.Errorf("Compact() error = %v, want nil", err)
	}
}

func TestCloseClearsStore(t *testing.T) {
	s := New(1024)
	s.Put([]byte("a"), []byte("1"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Stats().KeyCount != 0 {
		t.Errorf("KeyCount after Close() = %d, want 0", s.Stats().KeyCount)
	}
}

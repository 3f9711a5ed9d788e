// Package dbformat defines the internal key format shared by the memtable
// and sortable tables: a user key plus an 8-byte trailer packing the
// sequence number and record kind, ordered so that for equal user keys the
// highest sequence sorts first (spec §3 Record, invariant I1).
package dbformat

import (
	"errors"
	"fmt"

	"github.com/browserdb/storageengine/internal/encoding"
)

// SequenceNumber is the monotonic, per-engine sequence stamped on every
// record at ingestion time (spec §3: "not wall clock").
type SequenceNumber uint64

// NumTrailerBytes is the size of the trailer appended to every internal key:
// 8 bytes holding (sequence << 8 | kind).
const NumTrailerBytes = 8

// Kind distinguishes a live value from a deletion marker (spec §3: kind ∈ {put, tombstone}).
type Kind uint8

const (
	KindPut       Kind = 1
	KindTombstone Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

var (
	// ErrKeyTooSmall is returned when a buffer is shorter than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key shorter than trailer")
	// ErrInvalidKind is returned when the trailer's kind byte isn't recognized.
	ErrInvalidKind = errors.New("dbformat: invalid record kind")
)

// PackTrailer packs a sequence number and kind into the 8-byte trailer value.
func PackTrailer(seq SequenceNumber, k Kind) uint64 {
	return (uint64(seq) << 8) | uint64(k)
}

// UnpackTrailer splits a packed trailer back into sequence and kind.
func UnpackTrailer(packed uint64) (SequenceNumber, Kind) {
	return SequenceNumber(packed >> 8), Kind(packed & 0xff)
}

// InternalKey is a user key with its trailer appended: user_key || seq<<8|kind.
type InternalKey []byte

// NewInternalKey builds an internal key from its parts.
func NewInternalKey(userKey []byte, seq SequenceNumber, k Kind) InternalKey {
	dst := make([]byte, 0, len(userKey)+NumTrailerBytes)
	dst = append(dst, userKey...)
	dst = encoding.AppendFixed64(dst, PackTrailer(seq, k))
	return InternalKey(dst)
}

// UserKey returns the user key portion, or nil if ik is shorter than the trailer.
func (ik InternalKey) UserKey() []byte {
	if len(ik) < NumTrailerBytes {
		return nil
	}
	return ik[:len(ik)-NumTrailerBytes]
}

// Sequence returns the sequence number encoded in the trailer.
func (ik InternalKey) Sequence() SequenceNumber {
	if len(ik) < NumTrailerBytes {
		return 0
	}
	packed := encoding.DecodeFixed64(ik[len(ik)-NumTrailerBytes:])
	seq, _ := UnpackTrailer(packed)
	return seq
}

// Kind returns the record kind encoded in the trailer.
func (ik InternalKey) Kind() Kind {
	if len(ik) < NumTrailerBytes {
		return 0
	}
	packed := encoding.DecodeFixed64(ik[len(ik)-NumTrailerBytes:])
	_, k := UnpackTrailer(packed)
	return k
}

// Valid reports whether ik carries a full trailer with a recognized kind.
func (ik InternalKey) Valid() bool {
	if len(ik) < NumTrailerBytes {
		return false
	}
	k := ik.Kind()
	return k == KindPut || k == KindTombstone
}

// UserKeyCompare compares two user keys lexicographically over unsigned
// bytes (spec §3 Key: "Comparison is lexicographic over unsigned bytes").
func UserKeyCompare(a, b []byte) int {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Compare orders internal keys by user key ascending, then by trailer
// descending so that for equal user keys the highest (sequence, kind) sorts
// first — the record that should shadow all others for that key.
func Compare(a, b InternalKey) int {
	ua, ub := a.UserKey(), b.UserKey()
	if ua == nil {
		ua = []byte(a)
	}
	if ub == nil {
		ub = []byte(b)
	}
	if c := UserKeyCompare(ua, ub); c != 0 {
		return c
	}
	if len(a) < NumTrailerBytes || len(b) < NumTrailerBytes {
		return 0
	}
	ta := encoding.DecodeFixed64(a[len(a)-NumTrailerBytes:])
	tb := encoding.DecodeFixed64(b[len(b)-NumTrailerBytes:])
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}

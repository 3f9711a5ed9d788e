// Package filter implements a classic double-hashing bloom filter (C4): a
// fixed-false-positive-rate membership test built per sorted table to prune
// point lookups before they touch disk.
package filter

import (
	"math"

	"github.com/browserdb/storageengine/internal/checksum"
	"github.com/browserdb/storageengine/internal/encoding"
)

// DefaultFalsePositiveRate is the target used when a table doesn't specify
// its own (spec §4.4 default p = 0.01).
const DefaultFalsePositiveRate = 0.01

// Filter is an immutable bloom filter: a bit array sized for n entries at a
// target false-positive rate p, plus the derived hash count k.
type Filter struct {
	bits []byte
	m    uint64 // bit array size
	k    int    // hash count
}

// Build constructs a filter sized for the given keys at false-positive rate
// p. Keys may contain duplicates; duplicates cost nothing beyond the extra
// probe.
func Build(keys [][]byte, p float64) *Filter {
	if p <= 0 || p >= 1 {
		p = DefaultFalsePositiveRate
	}
	n := len(keys)
	m, k := Size(n, p)
	f := &Filter{
		bits: make([]byte, (m+7)/8),
		m:    m,
		k:    k,
	}
	for _, key := range keys {
		f.add(key)
	}
	return f
}

// Size derives the bit array size m and hash count k for n expected elements
// at false-positive rate p (spec §4.4):
//
//	m = ceil(-n * ln(p) / (ln 2)^2)
//	k = round((m/n) * ln 2)
func Size(n int, p float64) (m uint64, k int) {
	if n <= 0 {
		return 8, 1
	}
	ln2 := math.Ln2
	mf := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if mf < 8 {
		mf = 8
	}
	m = uint64(mf)
	kf := math.Round((mf / float64(n)) * ln2)
	if kf < 1 {
		kf = 1
	}
	k = int(kf)
	return m, k
}

func (f *Filter) add(key []byte) {
	h1, h2 := checksum.DoubleHash(key)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// Contains reports whether key may be a member. false is definitive; true
// may be a false positive (spec §4.4).
func (f *Filter) Contains(key []byte) bool {
	if f == nil || f.m == 0 {
		return true // no filter available: caller must still check the table
	}
	h1, h2 := checksum.DoubleHash(key)
	for i := 0; i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.m
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// NumHashes returns k, the number of hash probes per key.
func (f *Filter) NumHashes() int { return f.k }

// NumBits returns m, the bit array size.
func (f *Filter) NumBits() uint64 { return f.m }

// Encode serializes the filter for storage in a sstable footer:
// m varint, k varint, bits.
func (f *Filter) Encode() []byte {
	if f == nil {
		return nil
	}
	dst := encoding.AppendVarint(nil, f.m)
	dst = encoding.AppendVarint(dst, uint64(f.k))
	dst = append(dst, f.bits...)
	return dst
}

// Decode parses a filter previously written by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	m, n1, err := encoding.GetVarint(data)
	if err != nil {
		return nil, err
	}
	data = data[n1:]
	k, n2, err := encoding.GetVarint(data)
	if err != nil {
		return nil, err
	}
	data = data[n2:]
	return &Filter{bits: data, m: m, k: int(k)}, nil
}

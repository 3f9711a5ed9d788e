package checksum

import "github.com/zeebo/xxh3"

// HashFamily names one of the two independent 64-bit key hash functions the
// bloom filter's double hashing is built from (spec: "the engine exposes
// only two hash families ... but any two independent 64-bit hashes
// satisfying the contract are acceptable").
type HashFamily uint8

const (
	// HashDefault is the family used by production bloom filters.
	HashDefault HashFamily = 0
	// HashAlternate is used by tests to regress the double-hashing layer
	// independently of the default family's specific mixing.
	HashAlternate HashFamily = 1
)

// xxh3AltSeed seeds the alternate hash family so it is independent of the
// default family despite sharing an implementation.
const xxh3AltSeed uint64 = 0x9e3779b97f4a7c15

// Hash64 computes a 64-bit hash of key under the given family.
func Hash64(family HashFamily, key []byte) uint64 {
	if family == HashAlternate {
		return xxh3.HashSeed(key, xxh3AltSeed)
	}
	return xxh3.Hash(key)
}

// DoubleHash returns the pair (h1, h2) of independent 64-bit hashes a bloom
// filter combines as h1 + i*h2 for the i-th probe.
func DoubleHash(key []byte) (h1, h2 uint64) {
	return Hash64(HashDefault, key), Hash64(HashAlternate, key)
}

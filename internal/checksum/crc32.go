// Package checksum provides the integrity primitives used by the container
// format: CRC32 (IEEE 802.3) for entry and file checksums, and two
// independent 64-bit key hashes for the bloom filter's double hashing.
package checksum

import "hash/crc32"

var ieeeTable = crc32.MakeTable(crc32.IEEE)

// Value computes the CRC32 (IEEE 802.3 polynomial) of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

// Extend computes the CRC32 of concat(a, data) where initCRC is the CRC32 of
// a, without needing a itself. Used to checksum a byte range assembled from
// several discontiguous writes (e.g. an entry's header fields then its key
// and value) without copying them into one buffer first.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, ieeeTable, data)
}

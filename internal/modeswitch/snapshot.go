package modeswitch

import (
	"bytes"

	"github.com/browserdb/storageengine/internal/checksum"
	"github.com/browserdb/storageengine/internal/encoding"
)

// record is one migrated entry, captured during Snapshot (spec §4.11 point 3)
// and replayed against the target during Migrate.
type record struct {
	key   []byte
	value []byte
}

// snapshotBackend walks b's entire key space into an in-memory, ordered
// copy. This is the migration source and the sole rollback artifact: since
// both backings are bounded (ultra by max_bytes, persistent by whatever the
// caller migrates out of ultra), holding the full data set in memory for the
// duration of one switch is cheap relative to the I/O a table-reference-count
// scheme would add, and it gives Verify a stable baseline to hash against
// even if the source backend keeps taking writes it must still reject
// (spec §4.11 point 2: it is read-only for the duration of the switch).
func snapshotBackend(b Backend) ([]record, error) {
	it := b.Range(nil, nil)
	var out []record
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, record{
			key:   append([]byte(nil), it.Key()...),
			value: append([]byte(nil), it.Value()...),
		})
	}
	return out, it.Err()
}

// contentHash combines every record's key and value into one digest, used
// by Verify to compare the migrated target against the source snapshot
// (spec §4.11 point 5). Order matters: both sides are walked in the same
// ascending key order, so an identical data set always produces an
// identical hash.
func contentHash(records []record) uint64 {
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(encoding.AppendFixed64(nil, uint64(len(r.key))))
		buf.Write(r.key)
		buf.Write(encoding.AppendFixed64(nil, uint64(len(r.value))))
		buf.Write(r.value)
	}
	return checksum.Hash64(checksum.HashDefault, buf.Bytes())
}

func contentHashBackend(b Backend) (uint64, error) {
	records, err := snapshotBackend(b)
	if err != nil {
		return 0, err
	}
	return contentHash(records), nil
}

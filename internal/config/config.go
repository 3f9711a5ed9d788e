// Package config holds the engine's tunable options (spec §6 "Configuration
// options"). It has no dependents among the engine's own subsystems other
// than as plain data, which keeps it importable from every internal package
// without cycles.
package config

import "github.com/browserdb/storageengine/internal/compression"

// Config collects every tunable named in spec §6, with the defaults spec
// prescribes. Programmatic only — parsing one from a file or flags is
// explicitly out of scope (spec §1).
type Config struct {
	// MemtableMaxBytes is the flush threshold for the active memtable.
	MemtableMaxBytes int64
	// L0MaxTables is the L0 table count that forces compaction.
	L0MaxTables int
	// BaseLevelBytes is the L1 target byte budget.
	BaseLevelBytes int64
	// LevelGrowth is the per-level budget multiplier.
	LevelGrowth float64
	// MaxSSTableBytes is the target size of tables compaction produces.
	MaxSSTableBytes int64
	// Compression selects the algorithm used for new sstable entries.
	Compression compression.Algo
	// BloomFPRate is the target bloom filter false-positive rate.
	BloomFPRate float64
	// MaxBackgroundJobs caps parallel compactions.
	MaxBackgroundJobs int
	// AutosaveMS is the periodic flush cadence; 0 disables it.
	AutosaveMS int64
	// HeatCapacity is the maximum number of tracked keys in the heat tracker.
	HeatCapacity int
	// UltraMaxBytes is the hard cap for ultra mode. Required when opening in
	// ultra mode.
	UltraMaxBytes int64
	// StrictChecksums controls whether a CRC failure during Get surfaces as
	// Corruption (true) or degrades to a logged None (false).
	StrictChecksums bool
	// IndexStride is the sparse index granularity: one index entry is kept
	// every IndexStride data entries (spec §3).
	IndexStride int
}

// KeyMax is the maximum key length in bytes (spec §3).
const KeyMax = 64 << 10

// ValueMax is the maximum value length in bytes (spec §3).
const ValueMax = 16 << 20

// MaxLevel is the highest level index (spec §3: "0..=MAX_LEVEL, MAX_LEVEL=6").
const MaxLevel = 6

// Default returns the configuration spec §6 prescribes as defaults.
func Default() Config {
	return Config{
		MemtableMaxBytes:  32 << 20,
		L0MaxTables:       4,
		BaseLevelBytes:    8 << 20,
		LevelGrowth:       10,
		MaxSSTableBytes:   16 << 20,
		Compression:       compression.LZ4,
		BloomFPRate:       0.01,
		MaxBackgroundJobs: 4,
		AutosaveMS:        30000,
		HeatCapacity:      100000,
		StrictChecksums:   true,
		IndexStride:       16,
	}
}

// LevelTargetBytes returns the byte budget for level k (k >= 1): BASE * GROWTH^k.
func (c Config) LevelTargetBytes(level int) int64 {
	if level <= 0 {
		return c.BaseLevelBytes
	}
	target := float64(c.BaseLevelBytes)
	for i := 0; i < level; i++ {
		target *= c.LevelGrowth
	}
	return int64(target)
}

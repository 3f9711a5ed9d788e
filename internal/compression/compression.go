// Package compression implements the uniform compress/decompress adaptor
// used by the container format (C2): one entry point over
// {none, lz4, deflate, zstd}, with a per-call size guard and a helper that
// recommends an algorithm from input characteristics.
package compression

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algo identifies a compression algorithm. The on-disk container format
// stores this as the low bits of the header flags byte (bit0 "compressed");
// the specific algorithm travels out of band in the engine's per-table
// metadata, since spec.md's flags byte has room for only a single
// compressed/not-compressed bit.
type Algo uint8

const (
	None Algo = iota
	LZ4
	Deflate
	Zstd
)

func (a Algo) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Algo(%d)", a)
	}
}

// MaxInputBytes is the per-call size cap (spec §4.2): 16 MiB.
const MaxInputBytes = 16 << 20

// ErrDataTooLarge is returned when the input to Compress or Decompress
// exceeds MaxInputBytes.
var ErrDataTooLarge = errors.New("compression: input exceeds 16 MiB cap")

// ErrLengthMismatch is returned when decompressed output length does not
// match the length the caller expected.
var ErrLengthMismatch = errors.New("compression: decompressed length mismatch")

// tinyInputBytes: below this size, Recommend picks None, since compression
// overhead isn't worth it.
const tinyInputBytes = 64

var zstdEncoder *zstd.Encoder
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// Compress compresses data with algo. For None, the input is returned as-is
// (no copy). For every other algorithm the returned payload is preceded by a
// 4-byte little-endian uncompressed length, per the .bdb container layout.
func Compress(algo Algo, data []byte) ([]byte, error) {
	if len(data) > MaxInputBytes {
		return nil, ErrDataTooLarge
	}
	if algo == None {
		return data, nil
	}

	var body []byte
	var err error
	switch algo {
	case LZ4:
		body, err = compressLZ4(data)
	case Deflate:
		body, err = compressDeflate(data)
	case Zstd:
		body = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("compression: unsupported algorithm %v", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}

	out := make([]byte, 4, 4+len(body))
	out[0] = byte(len(data))
	out[1] = byte(len(data) >> 8)
	out[2] = byte(len(data) >> 16)
	out[3] = byte(len(data) >> 24)
	return append(out, body...), nil
}

// Decompress reverses Compress. expectedLen is the uncompressed length
// recorded by the writer (ignored for None); a mismatch between the decoded
// output and expectedLen is reported as ErrLengthMismatch.
func Decompress(algo Algo, data []byte, expectedLen int) ([]byte, error) {
	if len(data) > MaxInputBytes {
		return nil, ErrDataTooLarge
	}
	if algo == None {
		return data, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("compression: payload too short for length prefix")
	}
	uncompressedLen := int(data[0]) | int(data[1])<<8 | int(data[2])<<16 | int(data[3])<<24
	body := data[4:]

	var out []byte
	var err error
	switch algo {
	case LZ4:
		out, err = decompressLZ4(body, uncompressedLen)
	case Deflate:
		out, err = decompressDeflate(body)
	case Zstd:
		out, err = zstdDecoder.DecodeAll(body, make([]byte, 0, uncompressedLen))
	default:
		return nil, fmt.Errorf("compression: unsupported algorithm %v", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	if expectedLen > 0 && len(out) != expectedLen {
		return nil, ErrLengthMismatch
	}
	return out, nil
}

// lz4 block markers: CompressBlock reports n==0 for incompressible input
// (a valid outcome, not an error) — in that case the raw bytes are stored
// verbatim behind a marker byte so Decompress can still reconstruct them
// exactly, preserving the round-trip property regardless of compressibility.
const (
	lz4MarkerRaw   = 0x00
	lz4MarkerBlock = 0x01
)

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, 1+lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst[1:], ht[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return append([]byte{lz4MarkerRaw}, data...), nil
	}
	dst[0] = lz4MarkerBlock
	return dst[:1+n], nil
}

func decompressLZ4(data []byte, expectedLen int) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	marker, body := data[0], data[1:]
	if marker == lz4MarkerRaw {
		return append([]byte(nil), body...), nil
	}
	dst := make([]byte, expectedLen)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func compressDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Recommend suggests an algorithm from input characteristics. Compress and
// Decompress never consult it, and no writer in this module calls it: the
// sstable builder always uses its configured algorithm.
func Recommend(data []byte) Algo {
	if len(data) < tinyInputBytes {
		return None
	}
	if isHighlyRepetitive(data) {
		return LZ4
	}
	return Zstd
}

// isHighlyRepetitive is a cheap heuristic: it counts distinct bytes in the
// first 64-byte window only (inputs shorter than two windows never qualify)
// and reports true when that window holds at most 16 distinct values,
// favoring lz4 (cheap, fast) over zstd (better ratio, more CPU) when the
// data is likely to compress trivially.
func isHighlyRepetitive(data []byte) bool {
	const window = 64
	if len(data) < window*2 {
		return false
	}
	var seen [256]bool
	distinct := 0
	for _, b := range data[:window] {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	return distinct <= window/4
}

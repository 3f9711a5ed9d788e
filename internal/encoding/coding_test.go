package encoding

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestFixed32(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00, 0x00, 0x00}},
		{"one", 1, []byte{0x01, 0x00, 0x00, 0x00}},
		{"max", 0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"0x12345678", 0x12345678, []byte{0x78, 0x56, 0x34, 0x12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 4)
			EncodeFixed32(buf, tt.value)
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("EncodeFixed32(%d) = %v, want %v", tt.value, buf, tt.want)
			}
			if got := DecodeFixed32(tt.want); got != tt.value {
				t.Errorf("DecodeFixed32(%v) = %d, want %d", tt.want, got, tt.value)
			}
			if got := AppendFixed32(nil, tt.value); !bytes.Equal(got, tt.want) {
				t.Errorf("AppendFixed32(%d) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestFixed64(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  []byte
	}{
		{"zero", 0, []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{"one", 1, []byte{1, 0, 0, 0, 0, 0, 0, 0}},
		{"max", math.MaxUint64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 8)
			EncodeFixed64(buf, tt.value)
			if !bytes.Equal(buf, tt.want) {
				t.Errorf("EncodeFixed64(%d) = %v, want %v", tt.value, buf, tt.want)
			}
			if got := DecodeFixed64(tt.want); got != tt.value {
				t.Errorf("DecodeFixed64(%v) = %d, want %d", tt.want, got, tt.value)
			}
			if got := AppendFixed64(nil, tt.value); !bytes.Equal(got, tt.want) {
				t.Errorf("AppendFixed64(%d) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestVarint(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one", 1, []byte{0x01}},
		{"127", 127, []byte{0x7F}},
		{"128", 128, []byte{0x80, 0x01}},
		{"300", 300, []byte{0xAC, 0x02}},
		{"16384", 16384, []byte{0x80, 0x80, 0x01}},
		{"max_uint32", math.MaxUint32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}},
		{"max_uint64", math.MaxUint64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendVarint(nil, tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("AppendVarint(%d) = %v, want %v", tt.value, got, tt.want)
			}
			if n := SizeVarint(tt.value); n != len(tt.want) {
				t.Errorf("SizeVarint(%d) = %d, want %d", tt.value, n, len(tt.want))
			}

			value, n, err := GetVarint(tt.want)
			if err != nil {
				t.Fatalf("GetVarint(%v) error: %v", tt.want, err)
			}
			if value != tt.value {
				t.Errorf("GetVarint(%v) = %d, want %d", tt.want, value, tt.value)
			}
			if n != len(tt.want) {
				t.Errorf("GetVarint(%v) consumed %d, want %d", tt.want, n, len(tt.want))
			}
		})
	}
}

func TestVarintMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"unterminated", []byte{0x80, 0x80, 0x80}},
		{"ten_bytes_still_continuing", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := GetVarint(tt.input); !errors.Is(err, ErrMalformedVarint) {
				t.Errorf("GetVarint(%v) error = %v, want %v", tt.input, err, ErrMalformedVarint)
			}
		})
	}
}

func TestVarintRoundtrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 255, 256, 16383, 16384, math.MaxUint32, math.MaxUint32 + 1, math.MaxUint64}
	for _, v := range values {
		encoded := AppendVarint(nil, v)
		decoded, n, err := GetVarint(encoded)
		if err != nil {
			t.Errorf("roundtrip error for %d: %v", v, err)
			continue
		}
		if decoded != v || n != len(encoded) {
			t.Errorf("roundtrip failed for %d: got %d (n=%d)", v, decoded, n)
		}
	}
}

package schema

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		col ColumnSchema
		v   any
	}{
		{NewColumn("a", Int8).Build(), int8(-7)},
		{NewColumn("a", Int16).Build(), int16(math.MinInt16)},
		{NewColumn("a", Int32).Build(), int32(2001)},
		{NewColumn("a", Int64).Build(), int64(math.MaxInt64)},
		{NewColumn("a", Bool).Build(), true},
		{NewColumn("a", Float).Build(), float32(1.5)},
		{NewColumn("a", Double).Build(), math.Pi},
		{NewColumn("a", UnixTimeMicros).Build(), time.UnixMicro(1700000000123456).UTC()},
		{NewColumn("a", String).Build(), "ZhaSan1"},
		{NewColumn("a", String).Build(), ""},
		{NewColumn("a", String).Compression(Zstd).Build(), strings.Repeat("tablet ", 100)},
		{NewColumn("a", String).Compression(Gzip).Build(), strings.Repeat("tablet ", 100)},
		{NewColumn("a", Binary).Compression(Zstd).Build(), []byte{0, 1, 2, 3}},
		{NewColumn("a", Binary).Compression(Gzip).Build(), []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.col.String(), func(t *testing.T) {
			b, err := EncodeValue(tt.col, tt.v)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeValue(tt.col, b)
			if err != nil {
				t.Fatal(err)
			}
			if !valuesEqual(got, tt.v) {
				t.Errorf("got %v want %v", got, tt.v)
			}
		})
	}
}

func TestCompressionShrinksRepetitiveValues(t *testing.T) {
	src := bytes.Repeat([]byte("abcdefgh"), 512)
	for _, c := range []Compression{Zstd, Gzip} {
		out, err := compressorFor(c).compress(src)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) >= len(src) {
			t.Errorf("%v: compressed %d bytes into %d", c, len(src), len(out))
		}
	}
}

func TestDecodeValueInvalid(t *testing.T) {
	if _, err := DecodeValue(NewColumn("a", Int32).Build(), []byte{1, 2}); err == nil {
		t.Error("expected error for short int32 cell")
	}
	if _, err := DecodeValue(NewColumn("a", String).Compression(Zstd).Build(), []byte("not a valid zstd stream")); err == nil {
		t.Error("expected error when decompressing invalid zstd input")
	}
	if _, err := DecodeValue(NewColumn("a", Binary).Compression(Gzip).Build(), []byte("not gzip")); err == nil {
		t.Error("expected error when decompressing invalid gzip input")
	}
}

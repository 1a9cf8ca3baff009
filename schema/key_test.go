package schema

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"
)

func TestEncodeKeyPreservesOrder(t *testing.T) {
	tests := []struct {
		name   string
		typ    ColumnType
		values []any
	}{
		{"int8", Int8, []any{int8(math.MinInt8), int8(-1), int8(0), int8(1), int8(math.MaxInt8)}},
		{"int16", Int16, []any{int16(math.MinInt16), int16(-300), int16(0), int16(300), int16(math.MaxInt16)}},
		{"int32", Int32, []any{int32(math.MinInt32), int32(-2), int32(0), int32(2001), int32(math.MaxInt32)}},
		{"int64", Int64, []any{int64(math.MinInt64), int64(-1), int64(0), int64(1 << 40), int64(math.MaxInt64)}},
		{"string", String, []any{"", "a", "a\x00", "a\x00b", "ab", "b"}},
		{"binary", Binary, []any{[]byte{}, []byte{0}, []byte{0, 0}, []byte{0, 1}, []byte{1}, []byte{0xff}}},
		{"time", UnixTimeMicros, []any{time.UnixMicro(-5).UTC(), time.UnixMicro(0).UTC(), time.UnixMicro(1700000000000000).UTC()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// composite key so that the first column uses the escaped encoding
			s, err := NewBuilder().AddColumn("k", tt.typ, true).AddColumn("tail", Int8, true).Build()
			if err != nil {
				t.Fatal(err)
			}
			var keys [][]byte
			for _, v := range tt.values {
				r := NewRow().Set("k", v).Set("tail", int8(0))
				key, err := EncodeKey(s, r)
				if err != nil {
					t.Fatal(err)
				}
				keys = append(keys, key)

				decoded := NewRow()
				if err := DecodeKey(s, key, decoded); err != nil {
					t.Fatal(err)
				}
				got, _ := decoded.Get("k")
				if !valuesEqual(got, v) {
					t.Errorf("round trip: got %v want %v", got, v)
				}
			}
			if !sort.SliceIsSorted(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 }) {
				t.Errorf("encoded keys are not ordered: %x", keys)
			}
		})
	}
}

func TestEncodeKeyLastColumnVerbatim(t *testing.T) {
	s, err := NewBuilder().AddColumn("k", String, true).Build()
	if err != nil {
		t.Fatal(err)
	}
	key, err := EncodeKey(s, NewRow().Set("k", "a\x00b"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := key, []byte("a\x00b"); !bytes.Equal(got, want) {
		t.Errorf("got %x want %x", got, want)
	}
}

func TestDecodeKeyErrors(t *testing.T) {
	s, err := NewBuilder().AddColumn("a", String, true).AddColumn("b", Int32, true).Build()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range [][]byte{
		[]byte("abc"),
		[]byte("a\x00\x02\x00\x00\x80\x00\x00\x01"),
		[]byte("a\x00\x00\x80\x00"),
		[]byte("a\x00\x00\x80\x00\x00\x01\x01"),
	} {
		if err := DecodeKey(s, key, NewRow()); err == nil {
			t.Errorf("expected error for key %x", key)
		}
	}
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return a == b
}

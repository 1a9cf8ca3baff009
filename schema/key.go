package schema

import (
	"encoding/binary"
	"fmt"
	"time"
)

// EncodeKey encodes the key columns of a normalized row so that the byte order
// of encoded keys matches the order of the key tuples.
//
// Integers are stored big endian with the sign bit flipped. Strings and binary
// values escape 0x00 as 0x00 0x01 and end with 0x00 0x00, except in the last
// key column where they are stored verbatim.
func EncodeKey(s *Schema, r *Row) ([]byte, error) {
	buf := make([]byte, 0, 16)
	for i, col := range s.columns[:s.numKeys] {
		v, ok := r.values[col.Name]
		if !ok || v == nil {
			return nil, mismatchf(col.Name, "key column is missing")
		}
		var err error
		buf, err = appendKeyColumn(buf, col, v, i == s.numKeys-1)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendKeyColumn(buf []byte, col ColumnSchema, v any, last bool) ([]byte, error) {
	switch val := v.(type) {
	case int8:
		return append(buf, uint8(val)^0x80), nil
	case int16:
		return binary.BigEndian.AppendUint16(buf, uint16(val)^(1<<15)), nil
	case int32:
		return binary.BigEndian.AppendUint32(buf, uint32(val)^(1<<31)), nil
	case int64:
		return binary.BigEndian.AppendUint64(buf, uint64(val)^(1<<63)), nil
	case time.Time:
		return binary.BigEndian.AppendUint64(buf, uint64(val.UnixMicro())^(1<<63)), nil
	case string:
		return appendKeyBytes(buf, []byte(val), last), nil
	case []byte:
		return appendKeyBytes(buf, val, last), nil
	}
	return nil, mismatchf(col.Name, "value of type %T cannot be encoded as %v key", v, col.Type)
}

func appendKeyBytes(buf, b []byte, last bool) []byte {
	if last {
		return append(buf, b...)
	}
	for _, c := range b {
		if c == 0 {
			buf = append(buf, 0, 1)
			continue
		}
		buf = append(buf, c)
	}
	return append(buf, 0, 0)
}

// DecodeKey is the inverse of EncodeKey. The decoded key columns are set on r.
func DecodeKey(s *Schema, key []byte, r *Row) error {
	rest := key
	for i, col := range s.columns[:s.numKeys] {
		v, n, err := decodeKeyColumn(col, rest, i == s.numKeys-1)
		if err != nil {
			return fmt.Errorf("cannot decode key column %q: %w", col.Name, err)
		}
		r.Set(col.Name, v)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return fmt.Errorf("cannot decode key: %d trailing bytes", len(rest))
	}
	return nil
}

func decodeKeyColumn(col ColumnSchema, b []byte, last bool) (any, int, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("need %d bytes, have %d", n, len(b))
		}
		return nil
	}
	switch col.Type {
	case Int8:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return int8(b[0] ^ 0x80), 1, nil
	case Int16:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int16(binary.BigEndian.Uint16(b) ^ (1 << 15)), 2, nil
	case Int32:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int32(binary.BigEndian.Uint32(b) ^ (1 << 31)), 4, nil
	case Int64, UnixTimeMicros:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		n := int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
		if col.Type == UnixTimeMicros {
			return time.UnixMicro(n).UTC(), 8, nil
		}
		return n, 8, nil
	case String, Binary:
		raw, n, err := decodeKeyBytes(b, last)
		if err != nil {
			return nil, 0, err
		}
		if col.Type == String {
			return string(raw), n, nil
		}
		return raw, n, nil
	}
	return nil, 0, fmt.Errorf("type %v cannot be part of a key", col.Type)
}

func decodeKeyBytes(b []byte, last bool) ([]byte, int, error) {
	if last {
		return append([]byte(nil), b...), len(b), nil
	}
	var out []byte
	for i := 0; i < len(b); i++ {
		if b[i] != 0 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, 0, fmt.Errorf("truncated escape sequence")
		}
		switch b[i+1] {
		case 0:
			if out == nil {
				out = []byte{}
			}
			return out, i + 2, nil
		case 1:
			out = append(out, 0)
			i++
		default:
			return nil, 0, fmt.Errorf("invalid escape sequence 0x00 0x%02x", b[i+1])
		}
	}
	return nil, 0, fmt.Errorf("missing terminator")
}

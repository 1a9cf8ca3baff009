package schema

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
)

// EncodeValue encodes a normalized non-NULL value of col into its cell bytes.
// Fixed width types are big endian, strings and binary values go through the
// column compressor.
func EncodeValue(col ColumnSchema, v any) ([]byte, error) {
	switch val := v.(type) {
	case int8:
		return []byte{uint8(val)}, nil
	case int16:
		return binary.BigEndian.AppendUint16(nil, uint16(val)), nil
	case int32:
		return binary.BigEndian.AppendUint32(nil, uint32(val)), nil
	case int64:
		return binary.BigEndian.AppendUint64(nil, uint64(val)), nil
	case time.Time:
		return binary.BigEndian.AppendUint64(nil, uint64(val.UnixMicro())), nil
	case bool:
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case float32:
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(val)), nil
	case float64:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(val)), nil
	case string:
		return compressorFor(col.Compression).compress([]byte(val))
	case []byte:
		return compressorFor(col.Compression).compress(val)
	}
	return nil, mismatchf(col.Name, "value of type %T cannot be encoded as %v", v, col.Type)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(col ColumnSchema, b []byte) (any, error) {
	fixed := func(n int) error {
		if len(b) != n {
			return fmt.Errorf("column %q: %v cell has %d bytes, want %d", col.Name, col.Type, len(b), n)
		}
		return nil
	}
	switch col.Type {
	case Int8:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return int8(b[0]), nil
	case Int16:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(b)), nil
	case Int32:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case Int64:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case UnixTimeMicros:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return time.UnixMicro(int64(binary.BigEndian.Uint64(b))).UTC(), nil
	case Bool:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case Float:
		if err := fixed(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case Double:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case String, Binary:
		data, err := compressorFor(col.Compression).decompress(b)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		if col.Type == String {
			return string(data), nil
		}
		return append([]byte{}, data...), nil
	}
	return nil, fmt.Errorf("column %q has unknown type %v", col.Name, col.Type)
}

// ParseValue parses the textual form of a value of col. Binary values are
// given as hex, timestamps as RFC 3339.
func ParseValue(col ColumnSchema, s string) (any, error) {
	var (
		v   any
		err error
	)
	switch col.Type {
	case Int8, Int16, Int32, Int64:
		var n int64
		n, err = strconv.ParseInt(s, 10, 64)
		v = n
	case String:
		v = s
	case Binary:
		v, err = hex.DecodeString(s)
	case Bool:
		v, err = strconv.ParseBool(s)
	case Float:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case Double:
		v, err = strconv.ParseFloat(s, 64)
	case UnixTimeMicros:
		v, err = time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("column %q has unknown type %v", col.Name, col.Type)
	}
	if err != nil {
		return nil, mismatchf(col.Name, "cannot parse %q as %v: %v", s, col.Type, err)
	}
	return normalizeValue(col, v)
}

package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the primitive type of a column.
type ColumnType int

const (
	Int8 ColumnType = iota + 1
	Int16
	Int32
	Int64
	String
	Binary
	Bool
	Float
	Double
	UnixTimeMicros
)

var columnTypeNames = map[ColumnType]string{
	Int8:           "int8",
	Int16:          "int16",
	Int32:          "int32",
	Int64:          "int64",
	String:         "string",
	Binary:         "binary",
	Bool:           "bool",
	Float:          "float",
	Double:         "double",
	UnixTimeMicros: "unixtime_micros",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

// Keyable reports whether columns of this type may be part of the primary key.
func (t ColumnType) Keyable() bool {
	switch t {
	case Bool, Float, Double:
		return false
	}
	return t.Valid()
}

// ParseColumnType parses the lower case name of a column type.
func ParseColumnType(s string) (ColumnType, error) {
	for t, name := range columnTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid column type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Compression selects the codec applied to string and binary cell values.
type Compression int

const (
	NoCompression Compression = iota
	Zstd
	Gzip
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Compression) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*c = NoCompression
	case "zstd":
		*c = Zstd
	case "gzip":
		*c = Gzip
	default:
		return fmt.Errorf("unknown compression %q", text)
	}
	return nil
}

// OpKind is the kind of a row mutation.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpUpsert
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

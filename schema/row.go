package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

var ErrColumnNotSet = errors.New("column not set")

// Row maps column names to values. A nil value stands for NULL.
// Rows are not safe for concurrent modification.
type Row struct {
	values map[string]any
	order  []string
}

func NewRow() *Row {
	return &Row{values: make(map[string]any)}
}

// Set assigns v to the named column. Passing nil sets the column to NULL.
func (r *Row) Set(name string, v any) *Row {
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = v
	return r
}

func (r *Row) SetNull(name string) *Row              { return r.Set(name, nil) }
func (r *Row) SetInt8(name string, v int8) *Row      { return r.Set(name, v) }
func (r *Row) SetInt16(name string, v int16) *Row    { return r.Set(name, v) }
func (r *Row) SetInt32(name string, v int32) *Row    { return r.Set(name, v) }
func (r *Row) SetInt64(name string, v int64) *Row    { return r.Set(name, v) }
func (r *Row) SetString(name string, v string) *Row  { return r.Set(name, v) }
func (r *Row) SetBinary(name string, v []byte) *Row  { return r.Set(name, v) }
func (r *Row) SetBool(name string, v bool) *Row      { return r.Set(name, v) }
func (r *Row) SetFloat(name string, v float32) *Row  { return r.Set(name, v) }
func (r *Row) SetDouble(name string, v float64) *Row { return r.Set(name, v) }
func (r *Row) SetTime(name string, v time.Time) *Row { return r.Set(name, v) }

// Get returns the value of the named column and whether it was set.
func (r *Row) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// IsNull reports whether the column is set to NULL or not set at all.
func (r *Row) IsNull(name string) bool {
	return r.values[name] == nil
}

// Columns returns the names of the set columns in the order they were first set.
func (r *Row) Columns() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Row) Len() int {
	return len(r.order)
}

func (r *Row) Clone() *Row {
	c := &Row{values: make(map[string]any, len(r.values)), order: make([]string, len(r.order))}
	copy(c.order, r.order)
	for k, v := range r.values {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		c.values[k] = v
	}
	return c
}

func (r *Row) String() string {
	parts := make([]string, 0, len(r.order))
	for _, name := range r.order {
		v := r.values[name]
		switch val := v.(type) {
		case nil:
			parts = append(parts, name+"=NULL")
		case string:
			parts = append(parts, fmt.Sprintf("%s=%q", name, val))
		case []byte:
			parts = append(parts, fmt.Sprintf("%s=%x", name, val))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", name, val))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (r *Row) GetInt8(name string) (int8, error)      { return get[int8](r, name) }
func (r *Row) GetInt16(name string) (int16, error)    { return get[int16](r, name) }
func (r *Row) GetInt32(name string) (int32, error)    { return get[int32](r, name) }
func (r *Row) GetInt64(name string) (int64, error)    { return get[int64](r, name) }
func (r *Row) GetString(name string) (string, error)  { return get[string](r, name) }
func (r *Row) GetBinary(name string) ([]byte, error)  { return get[[]byte](r, name) }
func (r *Row) GetBool(name string) (bool, error)      { return get[bool](r, name) }
func (r *Row) GetFloat(name string) (float32, error)  { return get[float32](r, name) }
func (r *Row) GetDouble(name string) (float64, error) { return get[float64](r, name) }
func (r *Row) GetTime(name string) (time.Time, error) { return get[time.Time](r, name) }

func get[T any](r *Row, name string) (T, error) {
	var zero T
	v, ok := r.values[name]
	if !ok || v == nil {
		return zero, fmt.Errorf("column %q: %w", name, ErrColumnNotSet)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("column %q holds %T, not %T", name, v, zero)
	}
	return typed, nil
}

// NormalizeRow checks r against the schema for the given kind of mutation and
// returns a copy whose values carry the exact Go type of their column.
// Integer columns accept any Go integer that fits.
func (s *Schema) NormalizeRow(r *Row, kind OpKind) (*Row, error) {
	if r == nil {
		return nil, mismatchf("", "row is nil")
	}
	out := NewRow()
	for _, name := range r.order {
		col, ok := s.Column(name)
		if !ok {
			return nil, mismatchf(name, "no such column")
		}
		v := r.values[name]
		if kind == OpDelete && !col.Key {
			return nil, mismatchf(name, "delete accepts key columns only")
		}
		if v == nil {
			if !col.Nullable {
				return nil, mismatchf(name, "column is not nullable")
			}
			out.Set(name, nil)
			continue
		}
		nv, err := normalizeValue(col, v)
		if err != nil {
			return nil, err
		}
		out.Set(name, nv)
	}

	for _, col := range s.columns {
		if _, ok := out.values[col.Name]; ok {
			continue
		}
		if col.Key {
			return nil, mismatchf(col.Name, "key column is missing")
		}
		if !col.Nullable && (kind == OpInsert || kind == OpUpsert) {
			return nil, mismatchf(col.Name, "non-nullable column is missing")
		}
	}
	return out, nil
}

// ValidateRow reports whether r is acceptable for a mutation of the given kind.
func (s *Schema) ValidateRow(r *Row, kind OpKind) error {
	_, err := s.NormalizeRow(r, kind)
	return err
}

func normalizeValue(col ColumnSchema, v any) (any, error) {
	switch col.Type {
	case Int8:
		n, err := toInt64(col, v, math.MinInt8, math.MaxInt8)
		return int8(n), err
	case Int16:
		n, err := toInt64(col, v, math.MinInt16, math.MaxInt16)
		return int16(n), err
	case Int32:
		n, err := toInt64(col, v, math.MinInt32, math.MaxInt32)
		return int32(n), err
	case Int64:
		return toInt64(col, v, math.MinInt64, math.MaxInt64)
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Binary:
		if b, ok := v.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Float:
		if f, ok := v.(float32); ok {
			return f, nil
		}
	case Double:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
	case UnixTimeMicros:
		if t, ok := v.(time.Time); ok {
			return t.Truncate(time.Microsecond).UTC(), nil
		}
	}
	return nil, mismatchf(col.Name, "value of type %T does not match column type %v", v, col.Type)
}

func toInt64(col ColumnSchema, v any, lo, hi int64) (int64, error) {
	rv := reflect.ValueOf(v)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, mismatchf(col.Name, "value %d overflows %v", u, col.Type)
		}
		n = int64(u)
	default:
		return 0, mismatchf(col.Name, "value of type %T does not match column type %v", v, col.Type)
	}
	if n < lo || n > hi {
		return 0, mismatchf(col.Name, "value %d overflows %v", n, col.Type)
	}
	return n, nil
}

// NormalizeValue converts v to the exact Go type of the named column.
// A nil value is returned unchanged.
func (s *Schema) NormalizeValue(column string, v any) (any, error) {
	col, ok := s.Column(column)
	if !ok {
		return nil, mismatchf(column, "no such column")
	}
	if v == nil {
		return nil, nil
	}
	return normalizeValue(col, v)
}

package schema

import (
	"fmt"
	"unicode/utf8"
)

const maxColumnNameLength = 256

// ColumnSchema describes a single column of a table.
type ColumnSchema struct {
	Name        string      `json:"name"`
	Type        ColumnType  `json:"type"`
	Key         bool        `json:"key"`
	Nullable    bool        `json:"nullable"`
	Compression Compression `json:"compression,omitempty"`
}

func (c ColumnSchema) String() string {
	s := fmt.Sprintf("%s %s", c.Name, c.Type)
	if c.Key {
		s += " KEY"
	} else if !c.Nullable {
		s += " NOT NULL"
	}
	if c.Compression != NoCompression {
		s += " " + c.Compression.String()
	}
	return s
}

func (c ColumnSchema) validate() error {
	if c.Name == "" {
		return validationErrorf("column name must not be empty")
	}
	if len(c.Name) > maxColumnNameLength || !utf8.ValidString(c.Name) {
		return validationErrorf("column name %q is not a valid utf-8 name of at most %d bytes", c.Name, maxColumnNameLength)
	}
	if !c.Type.Valid() {
		return validationErrorf("column %q has unknown type %v", c.Name, c.Type)
	}
	if c.Key {
		if !c.Type.Keyable() {
			return validationErrorf("key column %q cannot be of type %v", c.Name, c.Type)
		}
		if c.Nullable {
			return validationErrorf("key column %q cannot be nullable", c.Name)
		}
	}
	if c.Compression != NoCompression && c.Type != String && c.Type != Binary {
		return validationErrorf("column %q of type %v cannot be compressed", c.Name, c.Type)
	}
	return nil
}

// ColumnBuilder assembles a ColumnSchema.
// Non-key columns are nullable unless stated otherwise.
type ColumnBuilder struct {
	col         ColumnSchema
	nullableSet bool
}

func NewColumn(name string, t ColumnType) *ColumnBuilder {
	return &ColumnBuilder{col: ColumnSchema{Name: name, Type: t}}
}

func (b *ColumnBuilder) Key(isKey bool) *ColumnBuilder {
	b.col.Key = isKey
	return b
}

func (b *ColumnBuilder) Nullable(nullable bool) *ColumnBuilder {
	b.col.Nullable = nullable
	b.nullableSet = true
	return b
}

func (b *ColumnBuilder) Compression(c Compression) *ColumnBuilder {
	b.col.Compression = c
	return b
}

func (b *ColumnBuilder) Build() ColumnSchema {
	col := b.col
	if !b.nullableSet {
		col.Nullable = !col.Key
	}
	return col
}

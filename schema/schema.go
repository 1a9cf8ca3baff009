package schema

import (
	"encoding/json"
	"strings"
)

// Schema is an immutable, validated, ordered list of columns.
// The key columns always form a leading prefix.
type Schema struct {
	columns []ColumnSchema
	index   map[string]int
	numKeys int
}

func newSchema(columns []ColumnSchema) (*Schema, error) {
	if len(columns) == 0 {
		return nil, validationErrorf("schema has no columns")
	}

	s := &Schema{
		columns: make([]ColumnSchema, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	copy(s.columns, columns)

	keysDone := false
	for i, col := range s.columns {
		if err := col.validate(); err != nil {
			return nil, err
		}
		if _, ok := s.index[col.Name]; ok {
			return nil, &DuplicateColumnError{Name: col.Name}
		}
		s.index[col.Name] = i

		if col.Key {
			if keysDone {
				return nil, validationErrorf("key column %q does not belong to the leading key prefix", col.Name)
			}
			s.numKeys++
		} else {
			keysDone = true
		}
	}
	if s.numKeys == 0 {
		return nil, validationErrorf("schema has no key column")
	}
	return s, nil
}

// Columns returns a copy of the columns in schema order.
func (s *Schema) Columns() []ColumnSchema {
	out := make([]ColumnSchema, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s *Schema) Column(name string) (ColumnSchema, bool) {
	i, ok := s.index[name]
	if !ok {
		return ColumnSchema{}, false
	}
	return s.columns[i], true
}

// ColumnIndex returns the position of the named column or -1.
func (s *Schema) ColumnIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

func (s *Schema) KeyColumns() []ColumnSchema {
	return s.Columns()[:s.numKeys]
}

func (s *Schema) NumKeyColumns() int {
	return s.numKeys
}

func (s *Schema) Len() int {
	return len(s.columns)
}

func (s *Schema) String() string {
	parts := make([]string, len(s.columns))
	for i, c := range s.columns {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Equal reports whether both schemas have identical columns in identical order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.columns) != len(other.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i] != other.columns[i] {
			return false
		}
	}
	return true
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.columns)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var columns []ColumnSchema
	if err := json.Unmarshal(data, &columns); err != nil {
		return err
	}
	parsed, err := newSchema(columns)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Builder assembles a Schema column by column. The first error encountered
// is kept and returned by Build; later calls are ignored.
type Builder struct {
	columns []ColumnSchema
	names   map[string]struct{}
	err     error
}

func NewBuilder() *Builder {
	return &Builder{names: make(map[string]struct{})}
}

// AddColumn appends a column with default options. Key columns are never
// nullable, other columns are nullable.
func (b *Builder) AddColumn(name string, t ColumnType, isKey bool) *Builder {
	return b.AddColumnSchema(NewColumn(name, t).Key(isKey).Build())
}

func (b *Builder) AddColumnSchema(col ColumnSchema) *Builder {
	if b.err != nil {
		return b
	}
	if _, ok := b.names[col.Name]; ok {
		b.err = &DuplicateColumnError{Name: col.Name}
		return b
	}
	b.names[col.Name] = struct{}{}
	b.columns = append(b.columns, col)
	return b
}

// Err returns the first error recorded by AddColumn.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	return newSchema(b.columns)
}

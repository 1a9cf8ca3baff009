package schema

import "fmt"

// DuplicateColumnError is returned when a column name is added twice to a Builder.
type DuplicateColumnError struct {
	Name string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("duplicate column %q", e.Name)
}

// SchemaValidationError is returned when a set of columns does not form a valid schema.
type SchemaValidationError struct {
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return "invalid schema: " + e.Reason
}

// InvalidPartitionError is returned when a PartitionSpec does not fit its schema
// or violates the bucket and replica constraints.
type InvalidPartitionError struct {
	Reason string
}

func (e *InvalidPartitionError) Error() string {
	return "invalid partition spec: " + e.Reason
}

// SchemaMismatchError is returned when a row does not conform to a table schema.
type SchemaMismatchError struct {
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return "row does not match schema: " + e.Reason
	}
	return fmt.Sprintf("row does not match schema: column %q: %s", e.Column, e.Reason)
}

func validationErrorf(format string, args ...any) error {
	return &SchemaValidationError{Reason: fmt.Sprintf(format, args...)}
}

func mismatchf(column, format string, args ...any) error {
	return &SchemaMismatchError{Column: column, Reason: fmt.Sprintf(format, args...)}
}

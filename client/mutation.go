package client

import (
	"fmt"

	"github.com/gobitfly/tabletstore/schema"
)

// Mutation is a single row operation against a table. Values are set on the
// row returned by Row before the mutation is applied to a session.
type Mutation struct {
	table *Table
	kind  schema.OpKind
	row   *schema.Row
}

func (m *Mutation) Row() *schema.Row {
	return m.row
}

func (m *Mutation) Kind() schema.OpKind {
	return m.kind
}

func (m *Mutation) Table() *Table {
	return m.table
}

func (m *Mutation) String() string {
	return fmt.Sprintf("%s %s %s", m.kind, m.table.Name(), m.row)
}

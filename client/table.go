package client

import (
	"fmt"

	"cloud.google.com/go/bigtable"

	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/store"
	"github.com/gobitfly/tabletstore/types"
)

// Tablet is the key range served by one bucket of a table. An empty EndKey
// means the range is unbounded.
type Tablet struct {
	Bucket   uint32
	StartKey string
	EndKey   string
}

func (t Tablet) rowRange() bigtable.RowRange {
	if t.EndKey == "" {
		return bigtable.InfiniteRange(t.StartKey)
	}
	return bigtable.NewRange(t.StartKey, t.EndKey)
}

// Table is a handle to a created table. It is immutable and safe for
// concurrent use.
type Table struct {
	meta    *types.TableMeta
	tablets []Tablet
}

func newTable(meta *types.TableMeta) *Table {
	n := meta.Partition.Buckets
	tablets := make([]Tablet, n)
	for b := 0; b < n; b++ {
		t := Tablet{Bucket: uint32(b)}
		if b > 0 {
			t.StartKey = schema.BucketStart(uint32(b))
		}
		if b < n-1 {
			t.EndKey = schema.BucketStart(uint32(b + 1))
		}
		tablets[b] = t
	}
	return &Table{meta: meta, tablets: tablets}
}

func (t *Table) Name() string {
	return t.meta.Name
}

// ID is the name of the storage table backing this table.
func (t *Table) ID() string {
	return t.meta.ID
}

func (t *Table) Schema() *schema.Schema {
	return t.meta.Schema
}

func (t *Table) PartitionSpec() *schema.PartitionSpec {
	return t.meta.Partition
}

func (t *Table) Tablets() []Tablet {
	out := make([]Tablet, len(t.tablets))
	copy(out, t.tablets)
	return out
}

func (t *Table) String() string {
	return fmt.Sprintf("%s (%s) %s %s", t.meta.Name, t.meta.ID, t.meta.Schema, t.meta.Partition)
}

func (t *Table) NewInsert() *Mutation { return t.newMutation(schema.OpInsert) }
func (t *Table) NewUpdate() *Mutation { return t.newMutation(schema.OpUpdate) }
func (t *Table) NewUpsert() *Mutation { return t.newMutation(schema.OpUpsert) }
func (t *Table) NewDelete() *Mutation { return t.newMutation(schema.OpDelete) }

func (t *Table) newMutation(kind schema.OpKind) *Mutation {
	return &Mutation{table: t, kind: kind, row: schema.NewRow()}
}

// mutationFor builds the storage mutation of a normalized row. Key columns
// live in the row key only. NULL clears the cell. The marker cell holds token,
// the identity of the write that stored the row last.
func (t *Table) mutationFor(kind schema.OpKind, row *schema.Row, token []byte) (*bigtable.Mutation, error) {
	mut := bigtable.NewMutation()
	if kind == schema.OpDelete {
		// a cell at server time keeps the bigtable client from resending
		// the delete on its own, the row is removed right after
		mut.Set(markerFamily, markerColumn, bigtable.ServerTime, token)
		mut.DeleteRow()
		return mut, nil
	}

	mut.Set(markerFamily, markerColumn, store.CellTimestamp, token)
	s := t.meta.Schema
	for _, name := range row.Columns() {
		col, _ := s.Column(name)
		if col.Key {
			continue
		}
		v, _ := row.Get(name)
		if v == nil {
			mut.DeleteCellsInColumn(columnFamily, name)
			continue
		}
		data, err := schema.EncodeValue(col, v)
		if err != nil {
			return nil, err
		}
		mut.Set(columnFamily, name, store.CellTimestamp, data)
	}
	return mut, nil
}

// decodeRow turns a stored row into a schema row holding the given columns,
// all columns when columns is nil. Missing cells are NULL.
func (t *Table) decodeRow(key string, cells store.Cells, columns []string) (*schema.Row, error) {
	s := t.meta.Schema
	keyRow := schema.NewRow()
	if _, err := t.meta.Partition.DecodeRowKey(s, key, keyRow); err != nil {
		return nil, fmt.Errorf("error decoding row key %x of table %s: %w", key, t.meta.Name, err)
	}

	if columns == nil {
		cols := s.Columns()
		columns = make([]string, len(cols))
		for i, c := range cols {
			columns[i] = c.Name
		}
	}

	row := schema.NewRow()
	for _, name := range columns {
		col, _ := s.Column(name)
		if col.Key {
			v, _ := keyRow.Get(name)
			row.Set(name, v)
			continue
		}
		data, ok := cells.Get(columnFamily, name)
		if !ok {
			row.SetNull(name)
			continue
		}
		v, err := schema.DecodeValue(col, data)
		if err != nil {
			return nil, fmt.Errorf("error decoding column %s of table %s: %w", name, t.meta.Name, err)
		}
		row.Set(name, v)
	}
	return row, nil
}

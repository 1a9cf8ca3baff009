package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"cloud.google.com/go/bigtable"
)

// TableWrapper binds a BigTableStore to a single table and column family and
// exposes it as a small key/value store.
type TableWrapper struct {
	*BigTableStore
	table  string
	family string
}

func Wrap(db *BigTableStore, table string, family string) TableWrapper {
	return TableWrapper{
		BigTableStore: db,
		table:         table,
		family:        family,
	}
}

// Add stores data in the given column of the row. Unless allowDuplicate is set
// the write only happens when the row does not exist yet. It reports whether
// the data was written.
func (w TableWrapper) Add(ctx context.Context, key, column string, data []byte, allowDuplicate bool) (bool, error) {
	mut := bigtable.NewMutation()
	mut.Set(w.family, column, CellTimestamp, data)

	if allowDuplicate {
		if err := w.Apply(ctx, w.table, key, mut); err != nil {
			return false, err
		}
		return true, nil
	}
	exists, err := w.ApplyIfExists(ctx, w.table, key, w.family, nil, mut)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// AddColumns stores several columns of a row in one atomic write that only
// happens when the row does not exist yet. It reports whether the row was written.
func (w TableWrapper) AddColumns(ctx context.Context, key string, columns map[string][]byte) (bool, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	mut := bigtable.NewMutation()
	for _, name := range names {
		mut.Set(w.family, name, CellTimestamp, columns[name])
	}
	exists, err := w.ApplyIfExists(ctx, w.table, key, w.family, nil, mut)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// GetLatestValue returns the value of a column, ErrNotFound if the row or the column is missing.
func (w TableWrapper) GetLatestValue(ctx context.Context, key, column string) ([]byte, error) {
	cells, err := w.GetRow(ctx, w.table, key)
	if err != nil {
		return nil, err
	}
	data, ok := cells.Get(w.family, column)
	if !ok {
		return nil, fmt.Errorf("column %s of row %s: %w", column, key, ErrNotFound)
	}
	return data, nil
}

func (w TableWrapper) GetRowKeys(ctx context.Context, prefix string) ([]string, error) {
	return w.BigTableStore.GetRowKeys(ctx, w.table, prefix)
}

// Delete removes the row and reports whether it existed.
func (w TableWrapper) Delete(ctx context.Context, key string) (bool, error) {
	mut := bigtable.NewMutation()
	mut.DeleteRow()
	return w.ApplyIfExists(ctx, w.table, key, w.family, mut, nil)
}

// DeleteIfEqual removes the row only while column holds exactly value and
// reports whether it did. value is matched literally and must be valid UTF-8.
func (w TableWrapper) DeleteIfEqual(ctx context.Context, key, column string, value []byte) (bool, error) {
	filter := bigtable.ChainFilters(
		bigtable.FamilyFilter(regexp.QuoteMeta(w.family)),
		bigtable.ColumnFilter(regexp.QuoteMeta(column)),
		bigtable.ValueFilter(regexp.QuoteMeta(string(value))),
	)
	mut := bigtable.NewMutation()
	mut.DeleteRow()
	return w.ApplyIf(ctx, w.table, key, filter, mut, nil)
}

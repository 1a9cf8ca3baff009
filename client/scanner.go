package client

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"cloud.google.com/go/bigtable"
	"github.com/sirupsen/logrus"

	"github.com/gobitfly/tabletstore/metrics"
	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/store"
	"github.com/gobitfly/tabletstore/types"
)

// ScanOptions configures a Scanner. A nil Projection returns every column,
// a Limit of 0 returns every matching row.
type ScanOptions struct {
	Projection []string
	Predicates []Predicate
	BatchSize  int
	Limit      int64
}

// ScanOptionsFromConfig maps the scan section of the configuration for a
// table of schema s. Predicates are given in their textual form.
func ScanOptionsFromConfig(s *schema.Schema, cfg *types.Config) (ScanOptions, error) {
	opts := ScanOptions{
		Projection: cfg.Scan.Projection,
		BatchSize:  cfg.Scan.BatchSize,
		Limit:      cfg.Scan.Limit,
	}
	for _, expr := range cfg.Scan.Predicates {
		p, err := ParsePredicate(s, expr)
		if err != nil {
			return opts, err
		}
		opts.Predicates = append(opts.Predicates, p)
	}
	return opts, nil
}

type rawRow struct {
	key   string
	cells store.Cells
}

// Scanner reads the rows of a table tablet by tablet. Rows are returned in
// key order within a tablet, there is no order across tablets.
// A scanner must only be used by one goroutine at a time.
type Scanner struct {
	client     *Client
	table      *Table
	batchSize  int
	limit      int64
	predicates []Predicate
	output     []string
	fetch      []string
	filter     bigtable.Filter
	tablets    []Tablet

	// cursor
	tablet   int
	lastKey  string
	started  bool
	returned int64

	closed bool
	log    *logrus.Entry
}

// NewScanner opens a scanner on t. Projection and predicates are checked
// against the schema of t.
func (c *Client) NewScanner(t *Table, opts ScanOptions) (*Scanner, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &SchemaMismatchError{Reason: "scanner has no table"}
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("invalid scan limit %d", opts.Limit)
	}
	s := t.Schema()

	sc := &Scanner{
		client:    c,
		table:     t,
		batchSize: opts.BatchSize,
		limit:     opts.Limit,
		tablets:   t.Tablets(),
		log:       logger.WithField("table", t.Name()),
	}
	if sc.batchSize <= 0 {
		sc.batchSize = DefaultScanBatchSize
	}

	for _, p := range opts.Predicates {
		np, err := p.normalize(s)
		if err != nil {
			return nil, err
		}
		sc.predicates = append(sc.predicates, np)
	}

	if opts.Projection != nil {
		seen := make(map[string]struct{}, len(opts.Projection))
		for _, name := range opts.Projection {
			if _, ok := s.Column(name); !ok {
				return nil, &SchemaMismatchError{Column: name, Reason: "projected column does not exist"}
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			sc.output = append(sc.output, name)
		}
		// predicates are evaluated here, their columns must be read as well
		sc.fetch = append([]string{}, sc.output...)
		for _, p := range sc.predicates {
			if _, ok := seen[p.Column]; !ok {
				seen[p.Column] = struct{}{}
				sc.fetch = append(sc.fetch, p.Column)
			}
		}
		if sc.fetch == nil {
			sc.fetch = []string{}
		}
	}
	sc.filter = projectionFilter(s, sc.fetch)

	if bucket, ok := sc.prunedBucket(); ok {
		sc.tablets = []Tablet{sc.tablets[bucket]}
		sc.log.WithField("bucket", bucket).Debug("scan pruned to a single tablet")
	}
	return sc, nil
}

// projectionFilter reads the latest version of the marker and of the given
// columns, every column when columns is nil.
func projectionFilter(s *schema.Schema, columns []string) bigtable.Filter {
	latest := bigtable.LatestNFilter(1)
	if columns == nil {
		return latest
	}
	var quoted []string
	for _, name := range columns {
		if col, _ := s.Column(name); col.Key {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(name))
	}
	marker := bigtable.ChainFilters(bigtable.FamilyFilter(markerFamily), bigtable.StripValueFilter())
	if len(quoted) == 0 {
		return bigtable.ChainFilters(latest, marker)
	}
	values := bigtable.ChainFilters(bigtable.FamilyFilter(columnFamily), bigtable.ColumnFilter(strings.Join(quoted, "|")))
	return bigtable.ChainFilters(latest, bigtable.InterleaveFilters(marker, values))
}

// prunedBucket returns the only bucket that can hold matching rows when every
// hash column is constrained by an equality predicate.
func (sc *Scanner) prunedBucket() (uint32, bool) {
	s := sc.table.Schema()
	spec := sc.table.PartitionSpec()
	row := schema.NewRow()
	for _, name := range spec.HashColumnNames(s) {
		found := false
		for _, p := range sc.predicates {
			if p.Column == name && p.Op == Equal {
				row.Set(name, p.Value)
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	bucket, err := spec.Bucket(s, row)
	if err != nil {
		return 0, false
	}
	return bucket, true
}

// HasMoreRows reports whether NextBatch may return more rows.
func (sc *Scanner) HasMoreRows() bool {
	if sc.closed || sc.tablet >= len(sc.tablets) {
		return false
	}
	return sc.limit == 0 || sc.returned < sc.limit
}

// NextBatch returns the next rows of the scan. It returns an empty batch once
// the scan is complete. When it fails the cursor is left unchanged and the
// call can be repeated.
func (sc *Scanner) NextBatch(ctx context.Context) ([]*schema.Row, error) {
	if sc.closed {
		return nil, ErrScannerClosed
	}
	if err := sc.client.checkOpen(); err != nil {
		return nil, err
	}

	var batch []*schema.Row
	for len(batch) == 0 && sc.HasMoreRows() {
		tablet := sc.tablets[sc.tablet]
		rng := tablet.rowRange()
		if sc.started {
			start := sc.lastKey + "\x00"
			if tablet.EndKey == "" {
				rng = bigtable.InfiniteRange(start)
			} else {
				rng = bigtable.NewRange(start, tablet.EndKey)
			}
		}

		var rows []rawRow
		err := sc.client.do(ctx, "scan", func(ctx context.Context) error {
			rows = rows[:0]
			return sc.client.db.ReadRows(ctx, sc.table.ID(), rng, int64(sc.batchSize), sc.filter, func(key string, cells store.Cells) bool {
				rows = append(rows, rawRow{key: key, cells: cells})
				return true
			})
		})
		if err != nil {
			if isNotFound(err) {
				sc.client.invalidate(sc.table)
				return nil, &TableNotFoundError{Name: sc.table.Name()}
			}
			return nil, err
		}

		out, err := sc.evaluate(rows)
		if err != nil {
			return nil, err
		}

		// the cursor only moves once the whole batch has been decoded
		if len(rows) < sc.batchSize {
			sc.tablet++
			sc.lastKey, sc.started = "", false
		} else {
			sc.lastKey, sc.started = rows[len(rows)-1].key, true
		}
		batch = out
		sc.returned += int64(len(out))
	}

	metrics.ScannerRowsTotal.Add(float64(len(batch)))
	return batch, nil
}

func (sc *Scanner) evaluate(rows []rawRow) ([]*schema.Row, error) {
	var out []*schema.Row
	for _, raw := range rows {
		if sc.limit > 0 && sc.returned+int64(len(out)) >= sc.limit {
			break
		}
		row, err := sc.table.decodeRow(raw.key, raw.cells, sc.fetch)
		if err != nil {
			return nil, err
		}
		if !sc.match(row) {
			continue
		}
		if sc.output != nil && len(sc.output) != len(sc.fetch) {
			projected := schema.NewRow()
			for _, name := range sc.output {
				v, _ := row.Get(name)
				projected.Set(name, v)
			}
			row = projected
		}
		out = append(out, row)
	}
	return out, nil
}

func (sc *Scanner) match(row *schema.Row) bool {
	for _, p := range sc.predicates {
		if !p.matches(row) {
			return false
		}
	}
	return true
}

// Rows iterates over the remaining rows of the scan. Iteration stops at the
// first error, which is yielded with a nil row.
func (sc *Scanner) Rows(ctx context.Context) iter.Seq2[*schema.Row, error] {
	return func(yield func(*schema.Row, error) bool) {
		for sc.HasMoreRows() {
			batch, err := sc.NextBatch(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range batch {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// Close ends the scan. Closing a closed scanner is a no-op.
func (sc *Scanner) Close() error {
	sc.closed = true
	return nil
}

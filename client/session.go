package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gobitfly/tabletstore/metrics"
	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/store"
	"github.com/gobitfly/tabletstore/types"
)

type FlushMode int

const (
	// FlushAutomatic flushes the buffer implicitly once it is full.
	FlushAutomatic FlushMode = iota
	// FlushManual rejects mutations once the buffer is full until Flush is called.
	FlushManual
)

func (m FlushMode) String() string {
	switch m {
	case FlushAutomatic:
		return "AUTOMATIC"
	case FlushManual:
		return "MANUAL"
	}
	return fmt.Sprintf("FlushMode(%d)", int(m))
}

type SessionConfig struct {
	FlushMode      FlushMode
	BufferCapacity int
}

// OperationResult is the outcome of one flushed mutation. Err is nil on success.
type OperationResult struct {
	Mutation *Mutation
	Err      error
}

// BatchResult holds the outcome of every mutation sent by a flush, in the
// order the mutations were applied to the session.
type BatchResult struct {
	Results []OperationResult
}

func (r *BatchResult) Len() int {
	return len(r.Results)
}

func (r *BatchResult) Succeeded() []*Mutation {
	var out []*Mutation
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Mutation)
		}
	}
	return out
}

func (r *BatchResult) Failed() []OperationResult {
	var out []OperationResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (r *BatchResult) HasErrors() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

type bufferedMutation struct {
	m      *Mutation
	row    *schema.Row
	key    string
	bucket uint32
	// written to the marker cell, identifies this write when it is read back
	token []byte
}

// Session buffers mutations and sends them to the cluster on flush.
// A session must only be used by one goroutine at a time.
type Session struct {
	id      string
	client  *Client
	cfg     SessionConfig
	buffer  []bufferedMutation
	pending []OperationResult
	seq     uint64
	closed  bool
	log     *logrus.Entry
}

// NewSession opens a write session. Mutations of any table of the client can
// be applied to it.
func (c *Client) NewSession(cfg SessionConfig) *Session {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		client: c,
		cfg:    cfg,
		buffer: make([]bufferedMutation, 0, cfg.BufferCapacity),
		log:    logger.WithFields(logrus.Fields{"session": id, "flushMode": cfg.FlushMode}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Buffered returns the number of mutations waiting for a flush.
func (s *Session) Buffered() int {
	return len(s.buffer)
}

// PendingErrors returns the failed results of implicit flushes that have not
// been reported by Flush yet.
func (s *Session) PendingErrors() []OperationResult {
	var out []OperationResult
	for _, res := range s.pending {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Apply checks the mutation against the schema of its table and buffers it.
func (s *Session) Apply(ctx context.Context, m *Mutation) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.client.checkOpen(); err != nil {
		return err
	}
	if m == nil || m.table == nil {
		return &SchemaMismatchError{Reason: "mutation has no table"}
	}

	tbl := m.table
	row, err := tbl.Schema().NormalizeRow(m.row, m.kind)
	if err != nil {
		return err
	}
	key, bucket, err := tbl.PartitionSpec().RowKey(tbl.Schema(), row)
	if err != nil {
		return err
	}

	if len(s.buffer) >= s.cfg.BufferCapacity {
		if s.cfg.FlushMode == FlushManual {
			return ErrBufferFull
		}
		s.log.WithField("buffered", len(s.buffer)).Debug("buffer is full, flushing")
		res, err := s.flush(ctx)
		s.pending = append(s.pending, res.Results...)
		if err != nil {
			return err
		}
	}

	s.seq++
	token := []byte(s.id + "/" + strconv.FormatUint(s.seq, 10))
	s.buffer = append(s.buffer, bufferedMutation{m: m, row: row, key: key, bucket: bucket, token: token})
	metrics.SessionBufferedMutations.Inc()
	return nil
}

// Flush sends every buffered mutation and waits for the outcome. Results of
// earlier implicit flushes come first. Per row failures are reported in the
// result, the error is only set when the flush itself was interrupted.
func (s *Session) Flush(ctx context.Context) (*BatchResult, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := s.client.checkOpen(); err != nil {
		return nil, err
	}

	res, err := s.flush(ctx)
	if len(s.pending) > 0 {
		res.Results = append(s.pending, res.Results...)
		s.pending = nil
	}
	return res, err
}

type flushGroup struct {
	table   *Table
	indices []int
}

func (s *Session) flush(ctx context.Context) (*BatchResult, error) {
	buffer := s.buffer
	if len(buffer) == 0 {
		return &BatchResult{}, nil
	}
	start := time.Now()

	// one group per tablet, keeping the order of application within a group
	groupIndex := make(map[string]int)
	var groups []*flushGroup
	for i, bm := range buffer {
		gk := fmt.Sprintf("%s/%d", bm.m.table.ID(), bm.bucket)
		g, ok := groupIndex[gk]
		if !ok {
			g = len(groups)
			groupIndex[gk] = g
			groups = append(groups, &flushGroup{table: bm.m.table})
		}
		groups[g].indices = append(groups[g].indices, i)
	}

	errs := make([]error, len(buffer))
	done := make([]bool, len(buffer))

	g := &errgroup.Group{}
	g.SetLimit(s.client.opts.FlushConcurrency)
	for _, group := range groups {
		g.Go(func() error {
			s.flushGroup(ctx, group, buffer, errs, done)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{Results: make([]OperationResult, 0, len(buffer))}
	var remaining []bufferedMutation
	for i, bm := range buffer {
		if !done[i] {
			remaining = append(remaining, bm)
			continue
		}
		res.Results = append(res.Results, OperationResult{Mutation: bm.m, Err: errs[i]})
		status := "ok"
		if errs[i] != nil {
			status = "error"
		}
		metrics.SessionFlushedMutationsTotal.WithLabelValues(bm.m.kind.String(), status).Inc()
	}
	s.buffer = append(s.buffer[:0:0], remaining...)
	metrics.SessionBufferedMutations.Sub(float64(len(buffer) - len(remaining)))

	s.log.WithFields(logrus.Fields{
		"sent":     res.Len(),
		"failed":   len(res.Failed()),
		"buffered": len(s.buffer),
		"tablets":  len(groups),
		"duration": time.Since(start),
	}).Debug("flushed session")

	if len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("flush interrupted with %d mutations left: %w", len(remaining), err)
		}
	}
	return res, nil
}

// flushGroup sends the mutations of one tablet in order. Runs of upserts are
// sent as one bulk write as long as no key repeats within the run.
func (s *Session) flushGroup(ctx context.Context, group *flushGroup, buffer []bufferedMutation, errs []error, done []bool) {
	tbl := group.table
	bulk := types.NewBulkMutations(len(group.indices))
	bulkKeys := make(map[string]struct{})

	sendBulk := func() {
		if bulk.Len() == 0 {
			return
		}
		s.writeBulk(ctx, tbl, bulk, errs, done)
		bulk.Reset()
		clear(bulkKeys)
	}

	for _, i := range group.indices {
		bm := buffer[i]
		if bm.m.kind == schema.OpUpsert {
			if _, ok := bulkKeys[bm.key]; ok {
				sendBulk()
			}
			mut, err := tbl.mutationFor(bm.m.kind, bm.row, bm.token)
			if err != nil {
				errs[i], done[i] = err, true
				continue
			}
			bulk.Add(bm.key, mut, i)
			bulkKeys[bm.key] = struct{}{}
			continue
		}

		sendBulk()
		if ctx.Err() != nil {
			return
		}
		err := s.applyConditional(ctx, tbl, bm)
		if err != nil && ctx.Err() != nil {
			// not acknowledged, stays buffered
			return
		}
		errs[i], done[i] = err, true
	}
	sendBulk()
}

// applyConditional sends an insert, update or delete as a check-and-mutate
// of the marker cell. An insert whose reply got lost is retried and then
// finds its own token in the marker, which counts as success. A delete
// leaves nothing to recognize it by, so it is sent once and a lost reply
// is reported as a ConnectionError.
func (s *Session) applyConditional(ctx context.Context, tbl *Table, bm bufferedMutation) error {
	mut, err := tbl.mutationFor(bm.m.kind, bm.row, bm.token)
	if err != nil {
		return err
	}

	op := "write_" + bm.m.kind.String()
	retries := s.client.opts.RetryBudget
	if bm.m.kind == schema.OpDelete {
		retries = 0
	}

	var existed bool
	err = s.client.doWith(ctx, op, retries, func(ctx context.Context) error {
		var err error
		if bm.m.kind != schema.OpInsert {
			existed, err = s.client.db.ApplyIfExists(ctx, tbl.ID(), bm.key, markerFamily, mut, nil)
			return err
		}
		existed, err = s.client.db.ApplyIfExists(ctx, tbl.ID(), bm.key, markerFamily, nil, mut)
		if err != nil || !existed {
			return err
		}
		own, err := s.ownsRow(ctx, tbl, bm)
		if err != nil {
			return err
		}
		existed = !own
		return nil
	})
	if err != nil {
		return s.rowError(tbl, err)
	}

	switch {
	case bm.m.kind == schema.OpInsert && existed:
		return &DuplicateKeyError{Table: tbl.Name(), Key: fmt.Sprintf("%x", bm.key)}
	case bm.m.kind != schema.OpInsert && !existed:
		return &RowNotFoundError{Table: tbl.Name(), Key: fmt.Sprintf("%x", bm.key)}
	}
	return nil
}

// ownsRow reports whether the marker cell of the row holds the token of bm.
func (s *Session) ownsRow(ctx context.Context, tbl *Table, bm bufferedMutation) (bool, error) {
	cells, err := s.client.db.GetRow(ctx, tbl.ID(), bm.key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	token, _ := cells.Get(markerFamily, markerColumn)
	return bytes.Equal(token, bm.token), nil
}

func (s *Session) writeBulk(ctx context.Context, tbl *Table, bulk *types.BulkMutations, errs []error, done []bool) {
	var rowErrs []error
	err := s.client.do(ctx, "write_upsert", func(ctx context.Context) error {
		var err error
		rowErrs, err = s.client.db.WriteBulk(ctx, tbl.ID(), bulk, store.MaxBatchMutations)
		return err
	})
	if err != nil && ctx.Err() != nil {
		return
	}
	for j, ref := range bulk.Refs {
		rowErr := err
		if rowErr == nil && j < len(rowErrs) {
			rowErr = rowErrs[j]
		}
		if rowErr != nil {
			rowErr = s.rowError(tbl, rowErr)
		}
		errs[ref], done[ref] = rowErr, true
	}
}

// rowError maps a storage failure of a single row to the client error taxonomy.
func (s *Session) rowError(tbl *Table, err error) error {
	var connErr *ConnectionError
	switch {
	case errors.As(err, &connErr):
		return err
	case isNotFound(err):
		s.client.invalidate(tbl)
		return &TableNotFoundError{Name: tbl.Name()}
	case isTransient(err):
		return &ConnectionError{Op: "flush", Address: s.client.address, Err: err}
	}
	return err
}

// Close discards the buffered mutations. It reports them with a
// ResourceDiscardedWarning. Closing a closed session is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	n := len(s.buffer)
	s.buffer = nil
	s.pending = nil
	if n == 0 {
		return nil
	}
	metrics.SessionBufferedMutations.Sub(float64(n))
	s.log.WithField("discarded", n).Warn("session closed with unflushed mutations")
	return &ResourceDiscardedWarning{Session: s.id, Discarded: n}
}

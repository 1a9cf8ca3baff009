package client

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/storetest"
)

func insertUser(t *testing.T, s *Session, tbl *Table, id int32, name string, age int8) *Mutation {
	t.Helper()
	m := tbl.NewInsert()
	m.Row().SetInt32("id", id).SetString("name", name).SetInt8("age", age)
	require.NoError(t, s.Apply(context.Background(), m))
	return m
}

func scanAll(t *testing.T, c *Client, tbl *Table, opts ScanOptions) []*schema.Row {
	t.Helper()
	sc, err := c.NewScanner(tbl, opts)
	require.NoError(t, err)
	defer sc.Close()
	var rows []*schema.Row
	for row, err := range sc.Rows(context.Background()) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestSessionManualFlush(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 4)

	s := c.NewSession(SessionConfig{FlushMode: FlushManual, BufferCapacity: 1000})
	defer s.Close()
	for id := int32(2001); id <= 2100; id++ {
		insertUser(t, s, tbl, id, "user", 30)
	}
	assert.Equal(t, 100, s.Buffered())

	res, err := s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Len())
	assert.Len(t, res.Succeeded(), 100)
	assert.False(t, res.HasErrors())
	assert.Equal(t, 0, s.Buffered())

	// results keep the order of application
	first, err := res.Results[0].Mutation.Row().GetInt32("id")
	require.NoError(t, err)
	assert.Equal(t, int32(2001), first)

	rows := scanAll(t, c, tbl, ScanOptions{})
	assert.Len(t, rows, 100)

	res, err = s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
}

func TestSessionDuplicateKey(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 4)

	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer s.Close()
	insertUser(t, s, tbl, 1, "ann", 30)
	insertUser(t, s, tbl, 2, "bob", 40)
	insertUser(t, s, tbl, 1, "carl", 50)

	res, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
	failed := res.Failed()
	require.Len(t, failed, 1)
	var dup *DuplicateKeyError
	require.ErrorAs(t, failed[0].Err, &dup)
	assert.Equal(t, "users", dup.Table)
	assert.Same(t, res.Results[2].Mutation, failed[0].Mutation)

	rows := scanAll(t, c, tbl, ScanOptions{Predicates: []Predicate{NewComparisonPredicate("id", Equal, 1)}})
	require.Len(t, rows, 1)
	name, err := rows[0].GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "ann", name)
}

func TestSessionUpdateDeleteUpsert(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 2)

	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer s.Close()
	insertUser(t, s, tbl, 1, "ann", 30)

	update := tbl.NewUpdate()
	update.Row().SetInt32("id", 1).SetInt8("age", 31).SetNull("name")
	require.NoError(t, s.Apply(ctx, update))

	missingUpdate := tbl.NewUpdate()
	missingUpdate.Row().SetInt32("id", 99).SetInt8("age", 1)
	require.NoError(t, s.Apply(ctx, missingUpdate))

	missingDelete := tbl.NewDelete()
	missingDelete.Row().SetInt32("id", 98)
	require.NoError(t, s.Apply(ctx, missingDelete))

	for i, age := range []int8{20, 21, 22} {
		upsert := tbl.NewUpsert()
		upsert.Row().SetInt32("id", 2).SetString("name", "bob").SetInt8("age", age)
		require.NoError(t, s.Apply(ctx, upsert), i)
	}

	res, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, res.Len())
	failed := res.Failed()
	require.Len(t, failed, 2)
	var notFound *RowNotFoundError
	for _, f := range failed {
		require.ErrorAs(t, f.Err, &notFound)
	}

	rows := scanAll(t, c, tbl, ScanOptions{})
	require.Len(t, rows, 2)
	byID := map[int32]*schema.Row{}
	for _, r := range rows {
		id, err := r.GetInt32("id")
		require.NoError(t, err)
		byID[id] = r
	}
	assert.True(t, byID[1].IsNull("name"))
	age, err := byID[1].GetInt8("age")
	require.NoError(t, err)
	assert.Equal(t, int8(31), age)
	age, err = byID[2].GetInt8("age")
	require.NoError(t, err)
	assert.Equal(t, int8(22), age)

	del := tbl.NewDelete()
	del.Row().SetInt32("id", 1)
	require.NoError(t, s.Apply(ctx, del))
	res, err = s.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, res.HasErrors())
	assert.Len(t, scanAll(t, c, tbl, ScanOptions{}), 1)
}

func TestSessionApplyValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 1)
	s := c.NewSession(SessionConfig{})
	defer s.Close()

	tests := []struct {
		name string
		m    func() *Mutation
	}{
		{"unknown column", func() *Mutation {
			m := tbl.NewInsert()
			m.Row().SetInt32("id", 1).Set("email", "x")
			return m
		}},
		{"missing key", func() *Mutation {
			m := tbl.NewUpsert()
			m.Row().SetString("name", "ann")
			return m
		}},
		{"wrong type", func() *Mutation {
			m := tbl.NewInsert()
			m.Row().SetString("id", "one")
			return m
		}},
		{"out of range", func() *Mutation {
			m := tbl.NewInsert()
			m.Row().SetInt32("id", 1).Set("age", 1000)
			return m
		}},
		{"delete with value column", func() *Mutation {
			m := tbl.NewDelete()
			m.Row().SetInt32("id", 1).SetString("name", "ann")
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Apply(ctx, tt.m())
			var mismatch *SchemaMismatchError
			require.ErrorAs(t, err, &mismatch)
		})
	}
	assert.Equal(t, 0, s.Buffered())
}

func TestSessionBufferFull(t *testing.T) {
	c := newTestClient(t)
	tbl := createUsers(t, c, 1)
	s := c.NewSession(SessionConfig{FlushMode: FlushManual, BufferCapacity: 2})
	defer s.Close()

	insertUser(t, s, tbl, 1, "a", 1)
	insertUser(t, s, tbl, 2, "b", 2)
	m := tbl.NewInsert()
	m.Row().SetInt32("id", 3).SetString("name", "c").SetInt8("age", 3)
	require.ErrorIs(t, s.Apply(context.Background(), m), ErrBufferFull)
	assert.Equal(t, 2, s.Buffered())
}

func TestSessionAutomaticFlush(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 2)
	s := c.NewSession(SessionConfig{FlushMode: FlushAutomatic, BufferCapacity: 2})
	defer s.Close()

	insertUser(t, s, tbl, 1, "a", 1)
	insertUser(t, s, tbl, 1, "a", 1)
	// the full buffer is flushed before the third mutation is buffered
	insertUser(t, s, tbl, 3, "c", 3)
	assert.Equal(t, 1, s.Buffered())
	require.Len(t, s.PendingErrors(), 1)

	res, err := s.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Len())
	assert.Len(t, res.Failed(), 1)
	assert.Empty(t, s.PendingErrors())
	assert.Len(t, scanAll(t, c, tbl, ScanOptions{}), 2)
}

func TestSessionFlushCancelled(t *testing.T) {
	c := newTestClient(t)
	tbl := createUsers(t, c, 4)
	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer s.Close()
	for id := int32(1); id <= 10; id++ {
		insertUser(t, s, tbl, id, "user", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Flush(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Len())
	assert.Equal(t, 10, s.Buffered())

	res, err = s.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Len())
	assert.False(t, res.HasErrors())
}

func TestSessionClose(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 1)

	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	insertUser(t, s, tbl, 1, "a", 1)
	insertUser(t, s, tbl, 2, "b", 2)

	err := s.Close()
	var warning *ResourceDiscardedWarning
	require.True(t, errors.As(err, &warning))
	assert.Equal(t, 2, warning.Discarded)
	assert.Equal(t, s.ID(), warning.Session)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Apply(ctx, tbl.NewInsert()), ErrSessionClosed)
	_, err = s.Flush(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	empty := c.NewSession(SessionConfig{})
	assert.NoError(t, empty.Close())

	assert.Empty(t, scanAll(t, c, tbl, ScanOptions{}))
}

func TestSessionDroppedTable(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	tbl := createUsers(t, c, 1)
	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer s.Close()

	insertUser(t, s, tbl, 1, "a", 1)
	upsert := tbl.NewUpsert()
	upsert.Row().SetInt32("id", 2).SetString("name", "b").SetInt8("age", 2)
	require.NoError(t, s.Apply(ctx, upsert))
	require.NoError(t, c.DeleteTable(ctx, "users"))

	res, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, res.Failed(), 2)
	for _, f := range res.Failed() {
		var notFound *TableNotFoundError
		assert.ErrorAs(t, f.Err, &notFound)
	}
}

// lostReply fails the next CheckAndMutateRow once it is armed. The call
// reaches the server first, so only the reply goes missing.
type lostReply struct {
	armed atomic.Bool
}

func (l *lostReply) intercept(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	err := invoker(ctx, method, req, reply, cc, opts...)
	if err == nil && strings.HasSuffix(method, "/CheckAndMutateRow") && l.armed.CompareAndSwap(true, false) {
		return status.Error(codes.Unavailable, "connection reset")
	}
	return err
}

func TestSessionLostReply(t *testing.T) {
	ctx := context.Background()
	addr := storetest.NewServer(t)
	lost := &lostReply{}
	opts := testOptions()
	opts.DialOptions = []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(lost.intercept),
	}
	c, err := Connect(ctx, []string{addr}, opts)
	require.NoError(t, err)
	defer c.Close()
	tbl := createUsers(t, c, 2)

	s := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer s.Close()

	// the resent insert finds its own row
	lost.armed.Store(true)
	insertUser(t, s, tbl, 1, "ann", 30)
	res, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	require.NoError(t, res.Results[0].Err)
	assert.False(t, lost.armed.Load())
	assert.Len(t, scanAll(t, c, tbl, ScanOptions{}), 1)

	// another session inserting the same key still gets a duplicate
	other := c.NewSession(SessionConfig{FlushMode: FlushManual})
	defer other.Close()
	insertUser(t, other, tbl, 1, "bob", 40)
	res, err = other.Flush(ctx)
	require.NoError(t, err)
	var duplicate *DuplicateKeyError
	require.ErrorAs(t, res.Results[0].Err, &duplicate)

	lost.armed.Store(true)
	update := tbl.NewUpdate()
	update.Row().SetInt32("id", 1).SetInt8("age", 31)
	require.NoError(t, s.Apply(ctx, update))
	res, err = s.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Results[0].Err)
	rows := scanAll(t, c, tbl, ScanOptions{})
	require.Len(t, rows, 1)
	age, err := rows[0].GetInt8("age")
	require.NoError(t, err)
	assert.Equal(t, int8(31), age)

	// a delete is sent once, its lost reply is a connection error
	lost.armed.Store(true)
	del := tbl.NewDelete()
	del.Row().SetInt32("id", 1)
	require.NoError(t, s.Apply(ctx, del))
	res, err = s.Flush(ctx)
	require.NoError(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, res.Results[0].Err, &connErr)
	var notFound *RowNotFoundError
	assert.False(t, errors.As(res.Results[0].Err, &notFound))
	assert.Empty(t, scanAll(t, c, tbl, ScanOptions{}))
}

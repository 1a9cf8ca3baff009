package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gobitfly/tabletstore/schema"
)

// Errors raised while building schemas and checking rows live in the schema
// package and are aliased here so that callers only need one import.
type (
	DuplicateColumnError  = schema.DuplicateColumnError
	SchemaValidationError = schema.SchemaValidationError
	InvalidPartitionError = schema.InvalidPartitionError
	SchemaMismatchError   = schema.SchemaMismatchError
)

var (
	ErrClientClosed     = errors.New("client is closed")
	ErrSessionClosed    = errors.New("session is closed")
	ErrScannerClosed    = errors.New("scanner is closed")
	ErrBufferFull       = errors.New("session buffer is full")
	ErrInvalidTableName = errors.New("invalid table name")
)

// ConnectionError reports that the cluster could not be reached, after the
// retry budget of the client has been spent.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString("connection error")
	if e.Op != "" {
		b.WriteString(" during " + e.Op)
	}
	if e.Address != "" {
		b.WriteString(" (" + e.Address + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

// RowNotFoundError is reported for an update or delete of a key that does not exist.
type RowNotFoundError struct {
	Table string
	Key   string
}

func (e *RowNotFoundError) Error() string {
	return fmt.Sprintf("row %s not found in table %q", e.Key, e.Table)
}

// DuplicateKeyError is reported for an insert of a key that already exists.
type DuplicateKeyError struct {
	Table string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("row %s already exists in table %q", e.Key, e.Table)
}

// ResourceDiscardedWarning is returned by Session.Close when buffered
// mutations had to be dropped.
type ResourceDiscardedWarning struct {
	Session   string
	Discarded int
}

func (e *ResourceDiscardedWarning) Error() string {
	return fmt.Sprintf("session %s closed with %d unflushed mutations, they were discarded", e.Session, e.Discarded)
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted, codes.Internal:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

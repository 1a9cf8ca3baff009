package store

import "context"

// KV is the key/value view of a single table used for metadata rows.
type KV interface {
	Add(ctx context.Context, key, column string, data []byte, allowDuplicate bool) (bool, error)
	AddColumns(ctx context.Context, key string, columns map[string][]byte) (bool, error)
	GetLatestValue(ctx context.Context, key, column string) ([]byte, error)
	GetRowKeys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) (bool, error)
	DeleteIfEqual(ctx context.Context, key, column string, value []byte) (bool, error)
}

var (
	_ KV = (*TableWrapper)(nil)
)

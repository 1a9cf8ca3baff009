package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gobitfly/tabletstore/cache"
	"github.com/gobitfly/tabletstore/metrics"
	"github.com/gobitfly/tabletstore/schema"
	"github.com/gobitfly/tabletstore/store"
	"github.com/gobitfly/tabletstore/types"
	"github.com/gobitfly/tabletstore/utils"
	"github.com/gobitfly/tabletstore/version"
)

var logger = logrus.StandardLogger().WithField("module", "client")

const (
	catalogTable  = "__tabletstore_catalog"
	catalogFamily = "m"
	catalogColumn = "meta"
	// the table id, stored apart so deletes can match on it
	catalogIDColumn = "id"

	// non-key column values
	columnFamily = "c"
	// every stored row carries a marker cell so that rows whose non-key
	// columns are all NULL still exist. It holds the token of the last write.
	markerFamily = "r"
	markerColumn = "x"

	tableIDPrefix      = "tbl_"
	maxTableNameLength = 256
)

// Client is a connection to a tablet store cluster. It is safe for concurrent
// use by multiple sessions and scanners.
type Client struct {
	id      string
	address string
	opts    Options
	db      *store.BigTableStore
	catalog store.KV
	tables  *cache.TableCache

	mu     sync.RWMutex
	closed bool
}

// Connect tries the addresses in order and connects to the first one that
// becomes ready within the operation timeout.
func Connect(ctx context.Context, addresses []string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if len(addresses) == 0 {
		return nil, &ConnectionError{Op: "connect", Err: errors.New("no cluster address given")}
	}

	dialOpts := opts.DialOptions
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	dialOpts = append(dialOpts, grpc.WithUserAgent(version.UserAgent()))

	tables, err := cache.NewTableCache(opts.TableCacheSize, opts.TableCacheTTL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var errs []error
	for _, addr := range addresses {
		db, err := connectOne(ctx, addr, opts, dialOpts)
		if err != nil {
			logger.WithError(err).WithField("address", addr).Warn("cluster address is not reachable")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c := &Client{
			id:      uuid.NewString(),
			address: addr,
			opts:    opts,
			db:      db,
			catalog: store.Wrap(db, catalogTable, catalogFamily),
			tables:  tables,
		}
		metrics.ObserveOperation("connect", start, nil)
		logger.WithFields(logrus.Fields{"client": c.id, "address": addr}).Info("connected to cluster")
		return c, nil
	}

	err = &ConnectionError{Op: "connect", Address: strings.Join(addresses, ","), Err: errors.Join(errs...)}
	metrics.ObserveOperation("connect", start, err)
	return nil, err
}

func connectOne(ctx context.Context, addr string, opts Options, dialOpts []grpc.DialOption) (*store.BigTableStore, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.OperationTimeout)
	defer cancel()

	families := map[string][]string{catalogTable: {catalogFamily}}
	if len(opts.ClientOptions) > 0 {
		clientOpts := append([]option.ClientOption{
			option.WithEndpoint(addr),
			option.WithUserAgent(version.UserAgent()),
		}, opts.ClientOptions...)
		return store.NewBigTable(dialCtx, opts.Project, opts.Instance, families, clientOpts...)
	}

	conn, err := store.Dial(dialCtx, addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	db, err := store.NewBigTableWithConn(dialCtx, conn, opts.Project, opts.Instance, families)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Address returns the cluster address the client is connected to.
func (c *Client) Address() string {
	return c.address
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// do runs fn with the operation timeout and retries transient failures with
// exponential backoff until the retry budget is spent.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.doWith(ctx, op, c.opts.RetryBudget, fn)
}

// doWith is do with an explicit number of retries. With none, a transient
// failure is returned as a ConnectionError right away.
func (c *Client) doWith(ctx context.Context, op string, retries int, fn func(ctx context.Context) error) error {
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInitialInterval
	bo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(retries, 0))), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			metrics.ClientRetriesTotal.WithLabelValues(op).Inc()
		}
		attempt++

		opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
		defer cancel()
		err := fn(opCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		logger.WithError(err).WithFields(logrus.Fields{"operation": op, "attempt": attempt}).Debug("transient failure")
		return err
	}, b)
	metrics.ObserveOperation(op, start, err)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case isTransient(err):
		return &ConnectionError{Op: op, Address: c.address, Err: err}
	}
	return err
}

func validateTableName(name string) error {
	if name == "" || len(name) > maxTableNameLength || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// CreateTable creates a table. The schema and partition spec are checked
// before anything is sent to the cluster.
func (c *Client) CreateTable(ctx context.Context, name string, s *schema.Schema, spec *schema.PartitionSpec) (*Table, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &SchemaValidationError{Reason: "schema is nil"}
	}
	if err := spec.Validate(s); err != nil {
		return nil, err
	}

	meta := &types.TableMeta{
		ID:        tableIDPrefix + ksuid.New().String(),
		Name:      name,
		Schema:    s,
		Partition: schema.NewPartitionSpec(spec.HashColumns, spec.Buckets, spec.Replicas),
		CreatedAt: time.Now().UTC(),
	}
	meta.Partition.Seed = spec.Seed
	data, err := utils.Compress(meta)
	if err != nil {
		return nil, fmt.Errorf("error encoding table metadata: %w", err)
	}

	// reserve the name in the catalog first, the data table follows
	err = c.do(ctx, "create_table", func(ctx context.Context) error {
		added, err := c.catalog.AddColumns(ctx, name, map[string][]byte{
			catalogColumn:   data,
			catalogIDColumn: []byte(meta.ID),
		})
		if err != nil {
			return err
		}
		if added {
			return nil
		}
		// a previous attempt may have been applied without us seeing the answer
		existing, err := c.readMeta(ctx, name)
		if err != nil {
			return err
		}
		if existing.ID != meta.ID {
			return &TableAlreadyExistsError{Name: name}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = c.do(ctx, "create_table", func(ctx context.Context) error {
		err := c.db.CreateTable(ctx, meta.ID, []string{columnFamily, markerFamily}, meta.Partition.SplitKeys())
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return err
	})
	if err != nil {
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.OperationTimeout)
		defer cancel()
		if _, rbErr := c.catalog.DeleteIfEqual(rollbackCtx, name, catalogIDColumn, []byte(meta.ID)); rbErr != nil {
			logger.WithError(rbErr).WithField("table", name).Error("error removing catalog entry of table that could not be created")
		}
		return nil, err
	}

	c.tables.Add(meta)
	logger.WithFields(logrus.Fields{"table": name, "id": meta.ID, "partition": meta.Partition.String()}).Info("created table")
	return newTable(meta), nil
}

// TableExists reports whether a table of that name exists.
func (c *Client) TableExists(ctx context.Context, name string) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	err := c.do(ctx, "table_exists", func(ctx context.Context) error {
		_, err := c.readMeta(ctx, name)
		return err
	})
	var notFound *TableNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OpenTable returns a handle to an existing table.
func (c *Client) OpenTable(ctx context.Context, name string) (*Table, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if meta, ok := c.tables.Get(name); ok {
		return newTable(meta), nil
	}

	var meta *types.TableMeta
	err := c.do(ctx, "open_table", func(ctx context.Context) error {
		var err error
		meta, err = c.readMeta(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.tables.Add(meta)
	return newTable(meta), nil
}

// DeleteTable drops a table and all of its rows.
func (c *Client) DeleteTable(ctx context.Context, name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	var meta *types.TableMeta
	err := c.do(ctx, "delete_table", func(ctx context.Context) error {
		var err error
		meta, err = c.readMeta(ctx, name)
		return err
	})
	if err != nil {
		return err
	}
	c.tables.Remove(name)

	// the data table goes first so that a failed delete can be repeated
	err = c.do(ctx, "delete_table", func(ctx context.Context) error {
		err := c.db.DeleteTable(ctx, meta.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	// only the entry read above, a table created under the same name in the
	// meantime stays
	var deleted bool
	err = c.do(ctx, "delete_table", func(ctx context.Context) error {
		var err error
		deleted, err = c.catalog.DeleteIfEqual(ctx, name, catalogIDColumn, []byte(meta.ID))
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return &TableNotFoundError{Name: name}
	}
	logger.WithFields(logrus.Fields{"table": name, "id": meta.ID}).Info("deleted table")
	return nil
}

// ListTables returns the names of all tables in key order.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var names []string
	err := c.do(ctx, "list_tables", func(ctx context.Context) error {
		var err error
		names, err = c.catalog.GetRowKeys(ctx, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) readMeta(ctx context.Context, name string) (*types.TableMeta, error) {
	data, err := c.catalog.GetLatestValue(ctx, name, catalogColumn)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &TableNotFoundError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	meta := &types.TableMeta{}
	if err := utils.Decompress(data, meta); err != nil {
		return nil, fmt.Errorf("error decoding metadata of table %s: %w", name, err)
	}
	return meta, nil
}

// invalidate drops a cached table whose data table has disappeared.
func (c *Client) invalidate(t *Table) {
	if meta, ok := c.tables.Get(t.Name()); ok && meta.ID == t.ID() {
		c.tables.Remove(t.Name())
	}
}

// Close releases the connection. Calling Close more than once is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.tables.Purge()
	if err := c.db.Close(); err != nil {
		return err
	}
	logger.WithField("client", c.id).Info("closed cluster connection")
	return nil
}

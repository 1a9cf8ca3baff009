package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gobitfly/tabletstore/types"
)

var logger = logrus.StandardLogger().WithField("module", "store")

var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrAlreadyExists = fmt.Errorf("already exists")
)

const (
	// MaxBatchMutations is the maximum number of row mutations sent in a single ApplyBulk call.
	MaxBatchMutations = 100000

	// CellTimestamp is the timestamp of every written cell, a write replaces the previous version.
	CellTimestamp = bigtable.Timestamp(0)
)

// Cells holds the values of a row by family and column qualifier.
type Cells map[string]map[string][]byte

// Get returns the value of a cell and whether it is present.
func (c Cells) Get(family, column string) ([]byte, bool) {
	v, ok := c[family][column]
	return v, ok
}

// BigTableStore is a wrapper around Google Cloud Bigtable for storing and retrieving rows
type BigTableStore struct {
	client *bigtable.Client
	admin  *bigtable.AdminClient
	conn   *grpc.ClientConn
}

func NewBigTableWithClient(ctx context.Context, client *bigtable.Client, adminClient *bigtable.AdminClient, tablesAndFamilies map[string][]string) (*BigTableStore, error) {
	// Initialize the Bigtable tables and column families
	if err := initTable(ctx, adminClient, tablesAndFamilies); err != nil {
		return nil, err
	}

	return &BigTableStore{client: client, admin: adminClient}, nil
}

// NewBigTableWithConn creates the data and admin clients on top of an established
// connection. The returned store owns conn and closes it on Close.
func NewBigTableWithConn(ctx context.Context, conn *grpc.ClientConn, project, instance string, tablesAndFamilies map[string][]string) (*BigTableStore, error) {
	adminClient, err := bigtable.NewAdminClient(ctx, project, instance, option.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("could not create admin client: %w", err)
	}

	client, err := bigtable.NewClientWithConfig(ctx, project, instance, bigtable.ClientConfig{MetricsProvider: bigtable.NoopMetricsProvider{}}, option.WithGRPCConn(conn))
	if err != nil {
		_ = adminClient.Close()
		return nil, fmt.Errorf("could not create data operations client: %w", err)
	}

	store, err := NewBigTableWithClient(ctx, client, adminClient, tablesAndFamilies)
	if err != nil {
		_ = client.Close()
		_ = adminClient.Close()
		return nil, err
	}
	store.conn = conn
	return store, nil
}

// NewBigTable initializes a new BigTableStore from client options, application
// default credentials unless opts say otherwise. ctx bounds the setup only.
func NewBigTable(ctx context.Context, project, instance string, tablesAndFamilies map[string][]string, opts ...option.ClientOption) (*BigTableStore, error) {
	// Create an admin client to manage Bigtable tables
	adminClient, err := bigtable.NewAdminClient(ctx, project, instance, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create admin client: %w", err)
	}

	// Create a Bigtable client for performing data operations
	client, err := bigtable.NewClientWithConfig(ctx, project, instance, bigtable.ClientConfig{MetricsProvider: bigtable.NoopMetricsProvider{}}, opts...)
	if err != nil {
		_ = adminClient.Close()
		return nil, fmt.Errorf("could not create data operations client: %w", err)
	}

	store, err := NewBigTableWithClient(ctx, client, adminClient, tablesAndFamilies)
	if err != nil {
		_ = client.Close()
		_ = adminClient.Close()
		return nil, err
	}
	return store, nil
}

// initTable creates the tables and column families in the Bigtable
func initTable(ctx context.Context, adminClient *bigtable.AdminClient, tablesAndFamilies map[string][]string) error {
	for table, families := range tablesAndFamilies {
		if err := createTableAndFamilies(ctx, adminClient, table, families...); err != nil {
			return err
		}
	}
	return nil
}

func createTableAndFamilies(ctx context.Context, admin *bigtable.AdminClient, tableName string, familyNames ...string) error {
	// Get the list of existing tables
	tables, err := admin.Tables(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch table list: %w", err)
	}

	// Create the table if it doesn't exist
	if !slices.Contains(tables, tableName) {
		if err := admin.CreateTable(ctx, tableName); err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("could not create table %s: %w", tableName, err)
		}
	}

	// Retrieve information about the table
	tblInfo, err := admin.TableInfo(ctx, tableName)
	if err != nil {
		return fmt.Errorf("could not read info for table %s: %w", tableName, err)
	}

	for _, familyName := range familyNames {
		// Create the column family if it doesn't exist
		if !slices.Contains(tblInfo.Families, familyName) {
			if err := admin.CreateColumnFamily(ctx, tableName, familyName); err != nil {
				return fmt.Errorf("could not create column family %s: %w", familyName, err)
			}
		}
	}
	return nil
}

// CreateTable creates a table pre-split at the given keys, so that every key
// range between two splits is served by its own tablet.
func (b *BigTableStore) CreateTable(ctx context.Context, table string, families []string, splitKeys []string) error {
	conf := &bigtable.TableConf{
		TableID:   table,
		SplitKeys: splitKeys,
		Families:  make(map[string]bigtable.GCPolicy, len(families)),
	}
	for _, family := range families {
		conf.Families[family] = bigtable.MaxVersionsPolicy(1)
	}
	if err := b.admin.CreateTableFromConf(ctx, conf); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("table %s: %w", table, ErrAlreadyExists)
		}
		return fmt.Errorf("could not create table %s: %w", table, err)
	}
	return nil
}

func (b *BigTableStore) DeleteTable(ctx context.Context, table string) error {
	if err := b.admin.DeleteTable(ctx, table); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("table %s: %w", table, ErrNotFound)
		}
		return fmt.Errorf("could not delete table %s: %w", table, err)
	}
	return nil
}

func (b *BigTableStore) Tables(ctx context.Context) ([]string, error) {
	tables, err := b.admin.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch table list: %w", err)
	}
	return tables, nil
}

// Apply applies a mutation to a single row without a condition.
func (b *BigTableStore) Apply(ctx context.Context, table, key string, mut *bigtable.Mutation) error {
	if err := b.client.Open(table).Apply(ctx, key, mut); err != nil {
		return fmt.Errorf("could not apply row mutation: %w", err)
	}
	return nil
}

// ApplyIfExists atomically applies onExists when the row has at least one cell
// in family and onMissing otherwise. Either mutation may be nil.
// It reports whether the row existed.
func (b *BigTableStore) ApplyIfExists(ctx context.Context, table, key, family string, onExists, onMissing *bigtable.Mutation) (bool, error) {
	return b.ApplyIf(ctx, table, key, bigtable.FamilyFilter(family), onExists, onMissing)
}

// ApplyIf atomically applies onMatch when filter yields at least one cell of
// the row and onMiss otherwise. It reports whether the filter matched.
func (b *BigTableStore) ApplyIf(ctx context.Context, table, key string, filter bigtable.Filter, onMatch, onMiss *bigtable.Mutation) (bool, error) {
	var matched bool
	mut := bigtable.NewCondMutation(filter, onMatch, onMiss)
	if err := b.client.Open(table).Apply(ctx, key, mut, bigtable.GetCondMutationResult(&matched)); err != nil {
		return false, fmt.Errorf("could not apply conditional row mutation: %w", err)
	}
	return matched, nil
}

// WriteBulk sorts the mutations by key and sends them in batches of at most
// batchSize rows. The returned slice holds the error of every mutation in the
// sorted order, nil for success. A batch level failure aborts the write and is
// returned as the second value; the mutations of that and later batches are
// reported with it.
func (b *BigTableStore) WriteBulk(ctx context.Context, table string, mutations *types.BulkMutations, batchSize int) ([]error, error) {
	numMutations := len(mutations.Muts)
	numKeys := len(mutations.Keys)
	if numKeys != numMutations {
		return nil, fmt.Errorf("error expected same number of keys as mutations keys: %v mutations: %v", numKeys, numMutations)
	}

	// pre-sort mutations for efficient bulk inserts
	sort.Sort(mutations)

	length := batchSize
	if length <= 0 || length > MaxBatchMutations {
		length = MaxBatchMutations
	}

	tbl := b.client.Open(table)
	errs := make([]error, numKeys)
	for start := 0; start < numKeys; start += length {
		end := min(start+length, numKeys)

		startTime := time.Now()
		batchErrs, err := tbl.ApplyBulk(ctx, mutations.Keys[start:end], mutations.Muts[start:end])
		if err != nil {
			for i := start; i < numKeys; i++ {
				errs[i] = err
			}
			return errs, fmt.Errorf("cannot ApplyBulk err: %w", err)
		}
		for i, e := range batchErrs {
			errs[start+i] = e
		}
		logger.Debugf("wrote rows %v to %v of table %s in %.3fs", start, end, table, time.Since(startTime).Seconds())
	}
	return errs, nil
}

// ReadRows reads the rows of rowSet and calls fn for each of them until fn
// returns false. A limit of 0 reads every row, a nil filter returns all cells.
func (b *BigTableStore) ReadRows(ctx context.Context, table string, rowSet bigtable.RowSet, limit int64, filter bigtable.Filter, fn func(key string, cells Cells) bool) error {
	var opts []bigtable.ReadOption
	if limit > 0 {
		opts = append(opts, bigtable.LimitRows(limit))
	}
	if filter != nil {
		opts = append(opts, bigtable.RowFilter(filter))
	}

	err := b.client.Open(table).ReadRows(ctx, rowSet, func(row bigtable.Row) bool {
		return fn(row.Key(), toCells(row))
	}, opts...)
	if err != nil {
		return fmt.Errorf("could not read rows: %w", err)
	}
	return nil
}

func (b *BigTableStore) GetRow(ctx context.Context, table, key string) (Cells, error) {
	row, err := b.client.Open(table).ReadRow(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("could not read row: %w", err)
	}
	if len(row) == 0 {
		return nil, ErrNotFound
	}
	return toCells(row), nil
}

func (b *BigTableStore) GetRowKeys(ctx context.Context, table, prefix string) ([]string, error) {
	var data []string
	// Read all rows matching the prefix and collect the row keys
	err := b.client.Open(table).ReadRows(ctx, bigtable.PrefixRange(prefix), func(row bigtable.Row) bool {
		data = append(data, row.Key())
		return true
	}, bigtable.RowFilter(bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())))
	if err != nil {
		return nil, fmt.Errorf("could not read rows: %w", err)
	}

	return data, nil
}

func toCells(row bigtable.Row) Cells {
	cells := make(Cells, len(row))
	for family, items := range row {
		columns := make(map[string][]byte, len(items))
		for _, item := range items {
			// item.Column is "family:qualifier"
			qualifier := strings.TrimPrefix(item.Column, family+":")
			if _, ok := columns[qualifier]; ok {
				continue
			}
			columns[qualifier] = item.Value
		}
		cells[family] = columns
	}
	return cells
}

// Close shuts down the BigTableStore by closing the Bigtable client connection
// It returns an error if the operation fails
func (b *BigTableStore) Close() error {
	if err := b.client.Close(); err != nil && !isClosing(err) {
		return fmt.Errorf("could not close client: %w", err)
	}
	if err := b.admin.Close(); err != nil && !isClosing(err) {
		return fmt.Errorf("could not close admin client: %w", err)
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !isClosing(err) {
			return fmt.Errorf("could not close connection: %w", err)
		}
	}
	return nil
}

func isClosing(err error) bool {
	return strings.Contains(err.Error(), "the client connection is closing")
}

package client

import (
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/gobitfly/tabletstore/types"
)

const (
	DefaultOperationTimeout = 10 * time.Second
	DefaultRetryBudget      = 3
	DefaultFlushConcurrency = 4
	DefaultTableCacheSize   = 128
	DefaultTableCacheTTL    = time.Minute
	DefaultProject          = "tabletstore"
	DefaultInstance         = "default"

	DefaultBufferCapacity = 1000
	DefaultScanBatchSize  = 500
)

// Options configures a Client. Zero values are replaced by the defaults.
type Options struct {
	// OperationTimeout bounds every single network round trip.
	OperationTimeout time.Duration
	Project          string
	Instance         string

	// RetryBudget is the number of retries of a transient failure before it
	// surfaces as a ConnectionError. A negative value disables retries.
	RetryBudget      int
	FlushConcurrency int
	TableCacheSize   int
	TableCacheTTL    time.Duration

	// DialOptions replace the default plaintext transport when set.
	DialOptions []grpc.DialOption

	// ClientOptions switch to an authenticated connection made by the
	// bigtable client itself, credentials are looked up the usual way unless
	// the options name them. The cluster address is used as endpoint.
	// DialOptions are ignored when set.
	ClientOptions []option.ClientOption

	// RetryInitialInterval is the first backoff delay between retries.
	RetryInitialInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.Project == "" {
		o.Project = DefaultProject
	}
	if o.Instance == "" {
		o.Instance = DefaultInstance
	}
	if o.RetryBudget == 0 {
		o.RetryBudget = DefaultRetryBudget
	} else if o.RetryBudget < 0 {
		o.RetryBudget = 0
	}
	if o.FlushConcurrency <= 0 {
		o.FlushConcurrency = DefaultFlushConcurrency
	}
	if o.TableCacheSize <= 0 {
		o.TableCacheSize = DefaultTableCacheSize
	}
	if o.TableCacheTTL == 0 {
		o.TableCacheTTL = DefaultTableCacheTTL
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 100 * time.Millisecond
	}
	return o
}

// OptionsFromConfig maps the cluster section of the configuration to Options.
func OptionsFromConfig(cfg *types.Config) Options {
	retries := cfg.Cluster.RetryBudget
	if retries == 0 {
		retries = -1
	}
	opts := Options{
		OperationTimeout: cfg.Cluster.OperationTimeout,
		Project:          cfg.Cluster.Project,
		Instance:         cfg.Cluster.Instance,
		RetryBudget:      retries,
		FlushConcurrency: cfg.Cluster.FlushConcurrency,
		TableCacheSize:   cfg.Cluster.TableCacheSize,
	}
	if cfg.Cluster.CredentialsFile != "" {
		opts.ClientOptions = []option.ClientOption{option.WithCredentialsFile(cfg.Cluster.CredentialsFile)}
	}
	return opts
}

// SessionConfigFromConfig maps the session section of the configuration.
func SessionConfigFromConfig(cfg *types.Config) SessionConfig {
	mode := FlushAutomatic
	if strings.EqualFold(cfg.Session.FlushMode, "MANUAL") {
		mode = FlushManual
	}
	return SessionConfig{FlushMode: mode, BufferCapacity: cfg.Session.BufferCapacity}
}

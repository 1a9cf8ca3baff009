package types

import "time"

// Config is the configuration of the tablet store client and the tabletctl command.
type Config struct {
	Cluster struct {
		Addresses        []string      `yaml:"addresses" envconfig:"TABLETSTORE_ADDRESSES" validate:"required,min=1,dive,hostname_port"`
		Project          string        `yaml:"project" envconfig:"TABLETSTORE_PROJECT" validate:"required"`
		Instance         string        `yaml:"instance" envconfig:"TABLETSTORE_INSTANCE" validate:"required"`
		OperationTimeout time.Duration `yaml:"operationTimeout" envconfig:"TABLETSTORE_OPERATION_TIMEOUT" validate:"gt=0"`
		RetryBudget      int           `yaml:"retryBudget" envconfig:"TABLETSTORE_RETRY_BUDGET" validate:"gte=0"`
		FlushConcurrency int           `yaml:"flushConcurrency" envconfig:"TABLETSTORE_FLUSH_CONCURRENCY" validate:"gte=1"`
		TableCacheSize   int           `yaml:"tableCacheSize" envconfig:"TABLETSTORE_TABLE_CACHE_SIZE" validate:"gte=1"`
		CredentialsFile  string        `yaml:"credentialsFile" envconfig:"TABLETSTORE_CREDENTIALS_FILE"`
	} `yaml:"cluster"`
	Session struct {
		FlushMode      string `yaml:"flushMode" envconfig:"TABLETSTORE_FLUSH_MODE" validate:"oneof=AUTOMATIC MANUAL"`
		BufferCapacity int    `yaml:"bufferCapacity" envconfig:"TABLETSTORE_BUFFER_CAPACITY" validate:"gte=1"`
	} `yaml:"session"`
	Scan struct {
		BatchSize  int      `yaml:"batchSize" envconfig:"TABLETSTORE_SCAN_BATCH_SIZE" validate:"gte=1"`
		Projection []string `yaml:"projection" envconfig:"TABLETSTORE_SCAN_PROJECTION"`
		Predicates []string `yaml:"predicates" envconfig:"TABLETSTORE_SCAN_PREDICATES"`
		Limit      int64    `yaml:"limit" envconfig:"TABLETSTORE_SCAN_LIMIT" validate:"gte=0"`
	} `yaml:"scan"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
		Address string `yaml:"address" envconfig:"METRICS_ADDRESS" validate:"required_if=Enabled true"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn error"`
		Format string `yaml:"format" envconfig:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
	} `yaml:"logging"`
}

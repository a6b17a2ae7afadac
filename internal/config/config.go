// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// store connections, the upstream ledger source, message queues, scoring thresholds,
// and the snapshot anchoring schedule.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Horizon     HorizonConfig
	Ingestion   IngestionConfig
	Aggregation AggregationConfig
	Reputation  ReputationConfig
	Anchoring   AnchoringConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration for the metrics gateway
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration for the batch-event transport
type KafkaConfig struct {
	Brokers           string
	BatchTopic        string // Topic carrying ingestion batch events
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for batch events that exhausted retries
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the append-only history store
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// HorizonConfig contains the upstream ledger source configuration
type HorizonConfig struct {
	URL            string        // Base URL of the Horizon instance
	RequestTimeout time.Duration // Per-request timeout for ledger fetches
}

// IngestionConfig contains ingestion coordinator configuration
type IngestionConfig struct {
	BatchSize       int           // Maximum records fetched per batch
	PollInterval    time.Duration // Delay between batches once the feed is drained
	MaxRetryElapsed time.Duration // Upper bound for the fetch backoff policy
}

// AggregationConfig contains aggregation engine configuration
type AggregationConfig struct {
	GreenThreshold    int    // reliability_score at or above which status is green
	YellowThreshold   int    // reliability_score at or above which status is yellow
	ReconcileSchedule string // cron expression for the consistency reconciliation sweep
}

// ReputationConfig contains reputation scorer configuration
type ReputationConfig struct {
	SuspiciousThreshold int    // unresolved report count that forces the suspicious status
	SweepSchedule       string // cron expression for the verification source sweep
}

// AnchoringConfig contains snapshot anchoring pipeline configuration
type AnchoringConfig struct {
	Schedule        string        // cron expression for snapshot submission
	ContractURL     string        // Soroban RPC endpoint hosting the snapshot contract
	ContractID      string        // Deployed contract identifier
	SubmitterKey    string        // Secret key of the single authorized submitter
	RequestTimeout  time.Duration // Per-call timeout for contract invocations
	MaxRetryElapsed time.Duration // Upper bound for the submission backoff policy
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of retry attempts for outbox events
}

// WorkerPoolConfig contains aggregation worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.BatchTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_BATCH_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Horizon config
	if c.Horizon.URL == "" {
		validationErrors = append(validationErrors, "HORIZON_URL is required")
	}
	if c.Horizon.RequestTimeout <= 0 {
		validationErrors = append(validationErrors, "HORIZON_REQUEST_TIMEOUT must be greater than 0")
	}

	// Validate Ingestion config
	if c.Ingestion.BatchSize <= 0 {
		validationErrors = append(validationErrors, "INGESTION_BATCH_SIZE must be greater than 0")
	}
	if c.Ingestion.PollInterval <= 0 {
		validationErrors = append(validationErrors, "INGESTION_POLL_INTERVAL must be greater than 0")
	}
	if c.Ingestion.MaxRetryElapsed <= 0 {
		validationErrors = append(validationErrors, "INGESTION_MAX_RETRY_ELAPSED must be greater than 0")
	}

	// Validate Aggregation config
	if c.Aggregation.YellowThreshold <= 0 {
		validationErrors = append(validationErrors, "AGGREGATION_YELLOW_THRESHOLD must be greater than 0")
	}
	if c.Aggregation.GreenThreshold <= c.Aggregation.YellowThreshold {
		validationErrors = append(validationErrors, "AGGREGATION_GREEN_THRESHOLD must be greater than AGGREGATION_YELLOW_THRESHOLD")
	}
	if c.Aggregation.ReconcileSchedule == "" {
		validationErrors = append(validationErrors, "AGGREGATION_RECONCILE_SCHEDULE is required")
	}

	// Validate Reputation config
	if c.Reputation.SuspiciousThreshold <= 0 {
		validationErrors = append(validationErrors, "REPUTATION_SUSPICIOUS_THRESHOLD must be greater than 0")
	}
	if c.Reputation.SweepSchedule == "" {
		validationErrors = append(validationErrors, "REPUTATION_SWEEP_SCHEDULE is required")
	}

	// Validate Anchoring config
	if c.Anchoring.Schedule == "" {
		validationErrors = append(validationErrors, "ANCHORING_SCHEDULE is required")
	}
	// ContractURL may be empty; the worker then anchors against the
	// in-memory contract instead of a remote endpoint.
	if c.Anchoring.RequestTimeout <= 0 {
		validationErrors = append(validationErrors, "ANCHORING_REQUEST_TIMEOUT must be greater than 0")
	}
	if c.Anchoring.MaxRetryElapsed <= 0 {
		validationErrors = append(validationErrors, "ANCHORING_MAX_RETRY_ELAPSED must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}

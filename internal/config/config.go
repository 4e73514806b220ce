// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// server settings, databases, message transports, escrow policy and the expiry sweeper.
package config

import (
	"errors"
	"strings"
	"time"
)

// Notification drivers
const (
	NotificationDriverKafka = "kafka"
	NotificationDriverNATS  = "nats"
	NotificationDriverLog   = "log"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application  ApplicationConfig
	Logging      LoggingConfig
	Server       ServerConfig
	Kafka        KafkaConfig
	NATS         NATSConfig
	Notification NotificationConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Escrow       EscrowConfig
	Sweeper      SweeperConfig
	Outbox       OutboxConfig
	Metrics      MetricsConfig
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

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	NotificationTopic string
	NumPartitions     int // Number of partitions for topics
	ReplicationFactor int // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for Dead Letter Queue
}

// NATSConfig contains NATS connection settings, used when Notification.Driver is "nats"
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

// NotificationConfig selects and sizes the fire-and-forget notification path
type NotificationConfig struct {
	Driver         string        // kafka | nats | log
	PoolSize       int           // Concurrent in-flight publishes
	PublishTimeout time.Duration // Per-event publish deadline
	InviteLinkURL  string        // Base of the link sent to recipients
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

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration for the sweeper lease and rate limiting
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// RateLimitConfig bounds accept/decline attempts per account
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// EscrowConfig contains transfer policy
type EscrowConfig struct {
	HoldTTL   time.Duration // Default time a hold stays resolvable
	MinTTL    time.Duration
	MaxTTL    time.Duration
	MaxAmount int64 // Minor units
}

// SweeperConfig contains expiry sweeper settings
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	LeaseTTL    time.Duration
	LeaseKey    string
}

// OutboxConfig contains ledger mirror outbox settings
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of retry attempts for outbox messages
}

// MetricsConfig contains the worker's Prometheus listener settings
type MetricsConfig struct {
	Port int
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

	// Validate Notification config
	switch c.Notification.Driver {
	case NotificationDriverKafka, NotificationDriverNATS, NotificationDriverLog:
	default:
		validationErrors = append(validationErrors, "NOTIFICATION_DRIVER must be one of kafka, nats, log")
	}
	if c.Notification.PoolSize <= 0 {
		validationErrors = append(validationErrors, "NOTIFICATION_POOL_SIZE must be greater than 0")
	}
	if c.Notification.PublishTimeout <= 0 {
		validationErrors = append(validationErrors, "NOTIFICATION_PUBLISH_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.NotificationTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_NOTIFICATION_TOPIC is required")
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

	// Validate NATS config
	if c.Notification.Driver == NotificationDriverNATS && c.NATS.URL == "" {
		validationErrors = append(validationErrors, "NATS_URL is required when NOTIFICATION_DRIVER is nats")
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

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}
	if c.Redis.DB < 0 {
		validationErrors = append(validationErrors, "REDIS_DB cannot be negative")
	}

	// Validate Auth config
	if c.Auth.JWTSecret == "" {
		validationErrors = append(validationErrors, "AUTH_JWT_SECRET is required")
	}
	if c.Application.Env == "production" && len(c.Auth.JWTSecret) < 32 {
		validationErrors = append(validationErrors, "AUTH_JWT_SECRET must be at least 32 bytes in production")
	}
	if c.Auth.TokenTTL <= 0 {
		validationErrors = append(validationErrors, "AUTH_TOKEN_TTL must be greater than 0")
	}

	// Validate RateLimit config
	if c.RateLimit.Requests <= 0 {
		validationErrors = append(validationErrors, "RATE_LIMIT_REQUESTS must be greater than 0")
	}
	if c.RateLimit.Window <= 0 {
		validationErrors = append(validationErrors, "RATE_LIMIT_WINDOW must be greater than 0")
	}

	// Validate Escrow config
	if c.Escrow.MinTTL <= 0 {
		validationErrors = append(validationErrors, "ESCROW_MIN_TTL must be greater than 0")
	}
	if c.Escrow.MaxTTL < c.Escrow.MinTTL {
		validationErrors = append(validationErrors, "ESCROW_MAX_TTL must not be less than ESCROW_MIN_TTL")
	}
	if c.Escrow.HoldTTL < c.Escrow.MinTTL || c.Escrow.HoldTTL > c.Escrow.MaxTTL {
		validationErrors = append(validationErrors, "ESCROW_HOLD_TTL must lie between ESCROW_MIN_TTL and ESCROW_MAX_TTL")
	}
	if c.Escrow.MaxAmount <= 0 {
		validationErrors = append(validationErrors, "ESCROW_MAX_AMOUNT must be greater than 0")
	}

	// Validate Sweeper config
	if c.Sweeper.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_INTERVAL must be greater than 0")
	}
	if c.Sweeper.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_BATCH_SIZE must be greater than 0")
	}
	if c.Sweeper.Concurrency <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_CONCURRENCY must be greater than 0")
	}
	if c.Sweeper.LeaseTTL < c.Sweeper.Interval {
		validationErrors = append(validationErrors, "SWEEPER_LEASE_TTL must not be less than SWEEPER_INTERVAL")
	}
	if c.Sweeper.LeaseKey == "" {
		validationErrors = append(validationErrors, "SWEEPER_LEASE_KEY is required")
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

	if c.Metrics.Port <= 0 {
		validationErrors = append(validationErrors, "METRICS_PORT must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}

// Package config loads and validates storage service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Blob backends.
const (
	BlobObject = "object"
	BlobLocal  = "local"
)

// Object storage providers.
const (
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Record backends.
const (
	RecordsRelational = "relational"
	RecordsNoSQL      = "nosql"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Records   RecordsConfig   `mapstructure:"records"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Dynamo    DynamoConfig    `mapstructure:"dynamo"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Migration MigrationConfig `mapstructure:"migration"`
	Health    HealthConfig    `mapstructure:"health"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects and tunes the blob store.
type StorageConfig struct {
	BlobBackend     string `mapstructure:"blob_backend"`
	ObjectProvider  string `mapstructure:"object_provider"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	LocalRoot       string `mapstructure:"local_root"`
	// GCSCredentialsFile is a service account key; empty uses application default credentials.
	GCSCredentialsFile string        `mapstructure:"gcs_credentials_file"`
	PresignTTL         time.Duration `mapstructure:"presign_ttl"`
	DegradedWindow     time.Duration `mapstructure:"degraded_window"`
}

// RecordsConfig selects the record store.
type RecordsConfig struct {
	Backend string `mapstructure:"backend"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// DynamoConfig names the single table and an optional local endpoint.
type DynamoConfig struct {
	TablePrefix string `mapstructure:"table_prefix"`
	Endpoint    string `mapstructure:"endpoint"`
	CreateTable bool   `mapstructure:"create_table"`
}

// AWSConfig holds region, credential and S3 endpoint settings.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	RoleARN         string `mapstructure:"role_arn"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	S3Endpoint      string `mapstructure:"s3_endpoint"`
	S3PathStyle     bool   `mapstructure:"s3_path_style"`
}

// MigrationConfig tunes the relational to NoSQL copy.
type MigrationConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// HealthConfig tunes health reporting.
type HealthConfig struct {
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// TracingConfig controls OpenTelemetry spans. Finished spans are written to
// the log at debug level; disabled tracing installs a no-op provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.blob_backend", BlobObject)
	v.SetDefault("storage.object_provider", ProviderS3)
	v.SetDefault("storage.fallback_enabled", true)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "")
	v.SetDefault("storage.local_root", "data/artifacts")
	v.SetDefault("storage.gcs_credentials_file", "")
	v.SetDefault("storage.presign_ttl", time.Hour)
	v.SetDefault("storage.degraded_window", 5*time.Minute)
	v.SetDefault("records.backend", RecordsRelational)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("postgres.migrate_on_start", false)
	v.SetDefault("dynamo.table_prefix", "gambix_strata")
	v.SetDefault("dynamo.endpoint", "")
	v.SetDefault("dynamo.create_table", false)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.role_arn", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.s3_endpoint", "")
	v.SetDefault("aws.s3_path_style", false)
	v.SetDefault("migration.batch_size", 100)
	v.SetDefault("migration.max_attempts", 3)
	v.SetDefault("health.latency_threshold", 500*time.Millisecond)
	v.SetDefault("health.timeout", 5*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "strata")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.BlobBackend {
	case BlobLocal:
		if strings.TrimSpace(c.Storage.LocalRoot) == "" {
			return fmt.Errorf("storage.local_root is required for the local blob backend")
		}
	case BlobObject:
		switch c.Storage.ObjectProvider {
		case ProviderS3, ProviderGCS:
			if c.Storage.Bucket == "" {
				return fmt.Errorf("storage.bucket is required for object provider %q", c.Storage.ObjectProvider)
			}
		case ProviderMemory:
		default:
			return fmt.Errorf("storage.object_provider must be one of s3, gcs, memory; got %q", c.Storage.ObjectProvider)
		}
		if c.Storage.FallbackEnabled && strings.TrimSpace(c.Storage.LocalRoot) == "" {
			return fmt.Errorf("storage.local_root is required when fallback is enabled")
		}
	default:
		return fmt.Errorf("storage.blob_backend must be object or local; got %q", c.Storage.BlobBackend)
	}
	if c.Storage.PresignTTL < 0 {
		return fmt.Errorf("storage.presign_ttl must not be negative")
	}
	switch c.Records.Backend {
	case RecordsRelational:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the relational record backend")
		}
	case RecordsNoSQL:
		if c.Dynamo.TablePrefix == "" {
			return fmt.Errorf("dynamo.table_prefix is required for the nosql record backend")
		}
	default:
		return fmt.Errorf("records.backend must be relational or nosql; got %q", c.Records.Backend)
	}
	if c.Postgres.MaxConns < 0 || c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres.min_conns must be between 0 and postgres.max_conns")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws.access_key_id and aws.secret_access_key must be set together")
	}
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration.batch_size must be > 0")
	}
	if c.Migration.MaxAttempts <= 0 {
		return fmt.Errorf("migration.max_attempts must be > 0")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// UsesAWS reports whether any configured component talks to AWS.
func (c Config) UsesAWS() bool {
	s3 := c.Storage.BlobBackend == BlobObject && c.Storage.ObjectProvider == ProviderS3
	return s3 || c.Records.Backend == RecordsNoSQL
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
logging:
  development: false
storage:
  blob_backend: object
  object_provider: gcs
  bucket: artifacts
  key_prefix: prod
  local_root: /var/lib/strata
  presign_ttl: 15m
  degraded_window: 1m
records:
  backend: nosql
dynamo:
  table_prefix: strata_prod
  endpoint: http://localhost:8000
  create_table: true
aws:
  region: eu-west-1
  role_arn: arn:aws:iam::123456789012:role/strata
migration:
  batch_size: 250
  max_attempts: 5
health:
  latency_threshold: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Storage.ObjectProvider != ProviderGCS || cfg.Storage.Bucket != "artifacts" || cfg.Storage.KeyPrefix != "prod" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Storage.PresignTTL != 15*time.Minute || cfg.Storage.DegradedWindow != time.Minute {
		t.Fatalf("expected durations to parse: %+v", cfg.Storage)
	}
	if cfg.Records.Backend != RecordsNoSQL || cfg.Dynamo.TablePrefix != "strata_prod" || !cfg.Dynamo.CreateTable {
		t.Fatalf("expected dynamo settings: %+v %+v", cfg.Records, cfg.Dynamo)
	}
	if cfg.AWS.Region != "eu-west-1" || cfg.AWS.RoleARN == "" {
		t.Fatalf("expected aws settings: %+v", cfg.AWS)
	}
	if cfg.Migration.BatchSize != 250 || cfg.Migration.MaxAttempts != 5 {
		t.Fatalf("expected migration settings: %+v", cfg.Migration)
	}
	if cfg.Health.LatencyThreshold != 250*time.Millisecond {
		t.Fatalf("expected latency threshold 250ms, got %v", cfg.Health.LatencyThreshold)
	}
	if !cfg.UsesAWS() {
		t.Fatalf("nosql records should use AWS")
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("STRATA_POSTGRES_DSN", "postgres://localhost/strata")
	t.Setenv("STRATA_STORAGE_BUCKET", "env-bucket")
	t.Setenv("STRATA_AWS_S3_PATH_STYLE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://localhost/strata" {
		t.Fatalf("expected DSN from env, got %q", cfg.Postgres.DSN)
	}
	if cfg.Storage.Bucket != "env-bucket" || !cfg.AWS.S3PathStyle {
		t.Fatalf("expected env overrides for storage: %+v %+v", cfg.Storage, cfg.AWS)
	}
	if cfg.Storage.BlobBackend != BlobObject || cfg.Storage.ObjectProvider != ProviderS3 || !cfg.Storage.FallbackEnabled {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Postgres.MaxConns != 10 || cfg.Postgres.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("unexpected postgres defaults: %+v", cfg.Postgres)
	}
	if cfg.Dynamo.TablePrefix != "gambix_strata" || cfg.AWS.Region != "us-east-1" {
		t.Fatalf("unexpected dynamo/aws defaults")
	}
	if cfg.Migration.BatchSize != 100 || cfg.Migration.MaxAttempts != 3 {
		t.Fatalf("unexpected migration defaults: %+v", cfg.Migration)
	}
	if cfg.Storage.PresignTTL != time.Hour || cfg.Health.LatencyThreshold != 500*time.Millisecond {
		t.Fatalf("unexpected duration defaults")
	}
	if cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "strata" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults: %+v", cfg.Tracing)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Storage:   StorageConfig{BlobBackend: BlobObject, ObjectProvider: ProviderS3, Bucket: "b", FallbackEnabled: true, LocalRoot: "data"},
		Records:   RecordsConfig{Backend: RecordsRelational},
		Postgres:  PostgresConfig{DSN: "postgres://localhost/db", MaxConns: 10},
		Dynamo:    DynamoConfig{TablePrefix: "t"},
		Migration: MigrationConfig{BatchSize: 100, MaxAttempts: 3},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory provider needs no bucket", mutate: func(c *Config) { c.Storage.ObjectProvider = ProviderMemory; c.Storage.Bucket = "" }},
		{name: "local backend", mutate: func(c *Config) { c.Storage.BlobBackend = BlobLocal; c.Storage.Bucket = "" }},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "blob backend", mutate: func(c *Config) { c.Storage.BlobBackend = "tape" }, wantErr: "storage.blob_backend"},
		{name: "provider", mutate: func(c *Config) { c.Storage.ObjectProvider = "azure" }, wantErr: "storage.object_provider"},
		{name: "bucket", mutate: func(c *Config) { c.Storage.Bucket = "" }, wantErr: "storage.bucket"},
		{name: "fallback root", mutate: func(c *Config) { c.Storage.LocalRoot = " " }, wantErr: "storage.local_root"},
		{name: "local root", mutate: func(c *Config) { c.Storage.BlobBackend = BlobLocal; c.Storage.LocalRoot = "" }, wantErr: "storage.local_root"},
		{name: "presign ttl", mutate: func(c *Config) { c.Storage.PresignTTL = -time.Second }, wantErr: "presign_ttl"},
		{name: "records backend", mutate: func(c *Config) { c.Records.Backend = "mongo" }, wantErr: "records.backend"},
		{name: "dsn", mutate: func(c *Config) { c.Postgres.DSN = "" }, wantErr: "postgres.dsn"},
		{name: "table", mutate: func(c *Config) { c.Records.Backend = RecordsNoSQL; c.Dynamo.TablePrefix = "" }, wantErr: "dynamo.table_prefix"},
		{name: "pool bounds", mutate: func(c *Config) { c.Postgres.MinConns = 20 }, wantErr: "min_conns"},
		{name: "half static keys", mutate: func(c *Config) { c.AWS.AccessKeyID = "AKIA" }, wantErr: "set together"},
		{name: "batch size", mutate: func(c *Config) { c.Migration.BatchSize = 0 }, wantErr: "batch_size"},
		{name: "attempts", mutate: func(c *Config) { c.Migration.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "tracing disabled ignores ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 7 }},
		{name: "sample ratio", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRatio = 1.5 }, wantErr: "tracing.sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

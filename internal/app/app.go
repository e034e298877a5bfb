// Package app builds the storage services from configuration and holds them
// for the lifetime of a command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcsapi "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/site-tracker/internal/api"
	"github.com/JakeFAU/site-tracker/internal/artifact"
	"github.com/JakeFAU/site-tracker/internal/clock/system"
	"github.com/JakeFAU/site-tracker/internal/config"
	"github.com/JakeFAU/site-tracker/internal/hash/sha256"
	"github.com/JakeFAU/site-tracker/internal/health"
	"github.com/JakeFAU/site-tracker/internal/id/ulid"
	"github.com/JakeFAU/site-tracker/internal/id/uuid"
	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/storage/dynamo"
	gcsstore "github.com/JakeFAU/site-tracker/internal/storage/gcs"
	"github.com/JakeFAU/site-tracker/internal/storage/local"
	"github.com/JakeFAU/site-tracker/internal/storage/memory"
	"github.com/JakeFAU/site-tracker/internal/storage/objectstore"
	"github.com/JakeFAU/site-tracker/internal/storage/postgres"
	s3store "github.com/JakeFAU/site-tracker/internal/storage/s3"
	"github.com/JakeFAU/site-tracker/internal/store"
	"github.com/JakeFAU/site-tracker/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg           config.Config
	logger        *zap.Logger
	records       store.RecordStore
	recordBackend string
	blobs         storage.BlobStore
	checker       *health.Checker
	artifacts     *artifact.Saver
	closers       []func()
}

// Build creates every storage service named by cfg. Nothing is contacted
// except when cfg asks for schema setup (postgres.migrate_on_start,
// dynamo.create_table).
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	shutdown, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)
	a.logger.Info("Building storage services",
		zap.String("blob_backend", cfg.Storage.BlobBackend),
		zap.String("object_provider", cfg.Storage.ObjectProvider),
		zap.Bool("fallback", cfg.Storage.FallbackEnabled),
		zap.String("records", cfg.Records.Backend),
	)

	blobs, err := a.buildBlobs(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.blobs = blobs

	if err := a.buildRecords(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("record store: %w", err)
	}

	clock := system.New()
	a.checker, err = health.NewChecker(a.records, a.recordBackend, a.blobs, health.Options{
		LatencyThreshold: cfg.Health.LatencyThreshold,
		DegradedWindow:   cfg.Storage.DegradedWindow,
		Timeout:          cfg.Health.Timeout,
	}, clock, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("health checker: %w", err)
	}
	a.artifacts, err = artifact.NewSaver(a.blobs, a.records, ulid.New(), sha256.New(), clock, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("artifact saver: %w", err)
	}
	return a, nil
}

func (a *App) buildBlobs(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Storage
	if cfg.BlobBackend == config.BlobLocal {
		a.logger.Info("Using local blob store", zap.String("root", cfg.LocalRoot))
		return local.New(local.Config{Root: cfg.LocalRoot})
	}

	client, err := a.objectClient(ctx)
	if err != nil {
		return nil, err
	}
	primary, err := objectstore.New(client, objectstore.Config{
		KeyPrefix:  cfg.KeyPrefix,
		PresignTTL: cfg.PresignTTL,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Using object blob store", zap.String("provider", client.Tag()), zap.String("bucket", cfg.Bucket))
	if !cfg.FallbackEnabled {
		return primary, nil
	}
	secondary, err := local.New(local.Config{Root: cfg.LocalRoot})
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return storage.NewFallback(primary, secondary, a.logger)
}

func (a *App) objectClient(ctx context.Context) (objectstore.Client, error) {
	cfg := a.cfg.Storage
	switch cfg.ObjectProvider {
	case config.ProviderS3:
		awsCfg, err := AWSConfig(ctx, a.cfg.AWS)
		if err != nil {
			return nil, err
		}
		return s3store.New(awsCfg, s3store.Config{
			Bucket:       cfg.Bucket,
			Endpoint:     a.cfg.AWS.S3Endpoint,
			UsePathStyle: a.cfg.AWS.S3PathStyle,
		})
	case config.ProviderGCS:
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		client, err := gcsapi.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("GCS client close failed", zap.Error(err))
			}
		})
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket})
	case config.ProviderMemory:
		return memory.NewClient(), nil
	}
	return nil, fmt.Errorf("unknown object provider %q", cfg.ObjectProvider)
}

func (a *App) buildRecords(ctx context.Context) error {
	switch a.cfg.Records.Backend {
	case config.RecordsRelational:
		s, err := OpenPostgres(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		a.records, a.recordBackend = s, postgres.Backend
	case config.RecordsNoSQL:
		s, err := OpenDynamo(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		a.records, a.recordBackend = s, dynamo.Backend
	default:
		return fmt.Errorf("unknown record backend %q", a.cfg.Records.Backend)
	}
	a.closers = append(a.closers, a.records.Close)
	a.records = telemetry.TraceRecords(a.records, a.recordBackend)
	a.logger.Info("Using record store", zap.String("backend", a.recordBackend))
	return nil
}

// InitTracing installs the tracer provider named by cfg.Tracing. The returned
// func flushes pending spans and never blocks for more than five seconds.
func InitTracing(ctx context.Context, cfg config.Config, logger *zap.Logger) (func(), error) {
	shutdown, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
	}, nil
}

// OpenPostgres opens the relational store, migrating the schema first when
// postgres.migrate_on_start is set.
func OpenPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*postgres.Store, error) {
	return postgres.New(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		MigrateOnStart:  cfg.Postgres.MigrateOnStart,
	}, uuid.New(), system.New(), logger)
}

// OpenDynamo opens the single-table store, creating the table first when
// dynamo.create_table is set.
func OpenDynamo(ctx context.Context, cfg config.Config, logger *zap.Logger) (*dynamo.Store, error) {
	awsCfg, err := AWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	s, err := dynamo.New(awsCfg, dynamo.Config{
		Table:    cfg.Dynamo.TablePrefix,
		Endpoint: cfg.Dynamo.Endpoint,
	}, uuid.New(), system.New(), logger)
	if err != nil {
		return nil, err
	}
	if cfg.Dynamo.CreateTable {
		created, err := s.EnsureTable(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("DynamoDB table ready", zap.String("table", s.Table()), zap.Bool("created", created))
	}
	return s, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Records returns the selected record store, wrapped in tracing spans.
func (a *App) Records() store.RecordStore { return a.records }

// RecordBackend returns the tag of the selected record store.
func (a *App) RecordBackend() string { return a.recordBackend }

// Blobs returns the blob store, wrapped in the fallback when enabled.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// Checker returns the storage health checker.
func (a *App) Checker() *health.Checker { return a.checker }

// Artifacts returns the scrape bundle saver.
func (a *App) Artifacts() *artifact.Saver { return a.artifacts }

// Run serves the operational HTTP endpoints until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	apiServer, err := api.NewServer(a.checker, a.logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", zap.Error(err))
	}
	return nil
}

// Close releases every client in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

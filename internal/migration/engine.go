// Package migration copies every entity from the relational store into the
// single-table NoSQL store.
//
// Kinds are migrated in dependency order. Users go first, then projects, then
// the remaining kinds concurrently with one worker per kind. Each entity is
// written unconditionally together with its uniqueness guards, so running the
// engine twice leaves the target unchanged. A guard already owned by another
// entity in the target fails that entity with a conflict instead of
// overwriting the guard. Failures are counted per kind and never stop the
// rest of the run.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-tracker/internal/clock/system"
	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/retry"
	"github.com/JakeFAU/site-tracker/internal/schema"
	"github.com/JakeFAU/site-tracker/internal/store"
	"github.com/JakeFAU/site-tracker/internal/telemetry"
)

// Source streams every entity of one kind in batches.
type Source interface {
	Each(ctx context.Context, kind model.Kind, batch int, fn func([]model.Entity) error) error
}

// Target writes items unconditionally and reads single items back.
type Target interface {
	PutItems(ctx context.Context, items ...schema.Item) error
	// GetItem returns the item under key, or nil when there is none.
	GetItem(ctx context.Context, key map[string]types.AttributeValue) (schema.Item, error)
}

// DefaultBatchSize is the source page size when Options.BatchSize is zero.
const DefaultBatchSize = 100

// Phases lists the kinds migrated together, in order.
var Phases = [][]model.Kind{
	{model.KindUser},
	{model.KindProject},
	{
		model.KindPage,
		model.KindHealthSnapshot,
		model.KindRecommendation,
		model.KindAlert,
		model.KindOptimizationRecord,
	},
}

// Options tunes a run.
type Options struct {
	// DryRun reads and translates every entity but writes nothing.
	DryRun    bool
	BatchSize int
	// Retry governs per-item write retries. Nil uses retry defaults.
	Retry *retry.Policy
	// Kinds restricts the run to these kinds. Empty means all.
	Kinds []model.Kind
}

// Engine runs a migration from Source to Target.
type Engine struct {
	source Source
	target Target
	opts   Options
	clock  store.Clock
	logger *zap.Logger
}

// New validates its collaborators and builds an Engine. clock and logger may be nil.
func New(source Source, target Target, opts Options, clock store.Clock, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, errors.New("migration source is required")
	}
	if target == nil && !opts.DryRun {
		return nil, errors.New("migration target is required unless dry run")
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be >= 0, got %d", opts.BatchSize)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewPolicy(0, 0, 0)
	}
	for _, k := range opts.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown kind %q", k)
		}
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source: source,
		target: target,
		opts:   opts,
		clock:  clock,
		logger: logger.Named("migration"),
	}, nil
}

// Run migrates every selected kind and returns the per-kind report. The error
// is non-nil only when ctx ends before the run completes; the partial report
// is returned with it.
func (e *Engine) Run(ctx context.Context) (_ *Report, err error) {
	ctx, span := telemetry.Start(ctx, "migration.run",
		attribute.Bool("migration.dry_run", e.opts.DryRun),
		attribute.Int("migration.batch_size", e.opts.BatchSize),
	)
	defer func() { telemetry.End(span, err) }()

	report := newReport(e.opts.DryRun, e.clock.Now())
	e.logger.Info("Starting migration",
		zap.Bool("dry_run", e.opts.DryRun),
		zap.Int("batch_size", e.opts.BatchSize),
	)

	for i, phase := range Phases {
		kinds := e.selected(phase)
		if len(kinds) == 0 {
			continue
		}
		if err := e.runPhase(ctx, i+1, kinds, report); err != nil {
			report.FinishedAt = e.clock.Now()
			return report, fmt.Errorf("migration phase %d: %w", i+1, err)
		}
	}

	report.FinishedAt = e.clock.Now()
	span.SetAttributes(
		attribute.Int("migration.attempted", report.Attempted()),
		attribute.Int("migration.failed", report.Failed()),
	)
	e.logger.Info("Migration finished",
		zap.Int("attempted", report.Attempted()),
		zap.Int("failed", report.Failed()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// runPhase migrates kinds concurrently, one worker per kind.
func (e *Engine) runPhase(ctx context.Context, n int, kinds []model.Kind, report *Report) (err error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
		report.Kinds[k] = &KindReport{}
	}
	ctx, span := telemetry.Start(ctx, "migration.phase",
		attribute.Int("migration.phase", n),
		attribute.StringSlice("migration.kinds", names),
	)
	defer func() { telemetry.End(span, err) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range kinds {
		kr := report.Kinds[k]
		g.Go(func() error {
			return e.migrateKind(gctx, k, kr)
		})
	}
	err = g.Wait()
	e.logger.Info("Migration phase finished", zap.Int("phase", n), zap.Int("kinds", len(kinds)))
	return err
}

func (e *Engine) selected(phase []model.Kind) []model.Kind {
	if len(e.opts.Kinds) == 0 {
		return phase
	}
	var out []model.Kind
	for _, k := range phase {
		for _, want := range e.opts.Kinds {
			if k == want {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// migrateKind only returns an error when ctx is done. Source failures are
// recorded on kr.
func (e *Engine) migrateKind(ctx context.Context, kind model.Kind, kr *KindReport) (err error) {
	ctx, span := telemetry.Start(ctx, "migration.kind", attribute.String("migration.kind", string(kind)))
	defer func() {
		span.SetAttributes(
			attribute.Int("migration.attempted", kr.Attempted),
			attribute.Int("migration.failed", kr.Failed),
		)
		telemetry.End(span, err)
	}()

	logger := e.logger.With(zap.String("kind", string(kind)))
	err = e.source.Each(ctx, kind, e.opts.BatchSize, func(batch []model.Entity) error {
		for _, ent := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.migrateOne(ctx, logger, kind, ent, kr)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		kr.Err = ctxErr.Error()
		return ctxErr
	}
	kr.Err = err.Error()
	logger.Error("Reading source failed", zap.Int("migrated", kr.Succeeded), zap.Error(err))
	return nil
}

func (e *Engine) migrateOne(ctx context.Context, logger *zap.Logger, kind model.Kind, ent model.Entity, kr *KindReport) {
	kr.Attempted++
	id := ent.GetID()

	items, err := translate(ent)
	if err != nil {
		e.fail(logger, kind, id, err, kr)
		return
	}
	if e.opts.DryRun {
		for _, it := range items {
			kr.Planned = append(kr.Planned, Key{PK: it.PK(), SK: it.SK()})
		}
		kr.Succeeded++
		return
	}

	attempts, err := e.opts.Retry.Do(ctx, func(ctx context.Context) error {
		if err := e.checkGuards(ctx, items); err != nil {
			return err
		}
		return e.target.PutItems(ctx, items...)
	})
	for range attempts - 1 {
		metrics.ObserveMigrationRetry(string(kind))
	}
	if err != nil {
		e.fail(logger, kind, id, err, kr)
		return
	}
	metrics.ObserveMigrationItem(string(kind), nil)
	kr.Succeeded++
}

func (e *Engine) fail(logger *zap.Logger, kind model.Kind, id string, err error, kr *KindReport) {
	metrics.ObserveMigrationItem(string(kind), err)
	kr.Failed++
	kr.Failures = append(kr.Failures, Failure{ID: id, Kind: store.KindOf(err), Error: err.Error()})
	logger.Warn("Migrating entity failed", zap.String("id", id), zap.Error(err))
}

// checkGuards fails when a guard in items is already held by an entity other
// than items[0]. The data was unique in the source, so this only happens when
// the target already holds records the source does not know about.
func (e *Engine) checkGuards(ctx context.Context, items []schema.Item) error {
	owner := items[0]
	for _, it := range items[1:] {
		if !schema.IsGuard(it) {
			continue
		}
		existing, err := e.target.GetItem(ctx, it.Key())
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		if pk, sk := schema.GuardOwner(existing); pk != owner.PK() || sk != owner.SK() {
			return store.Errorf(store.KindConflict, "migrate", "", "%s is already held by %s", it.PK(), pk)
		}
	}
	return nil
}

// translate validates ent and maps it to its item plus uniqueness guards.
func translate(ent model.Entity) ([]schema.Item, error) {
	if err := ent.Validate(); err != nil {
		return nil, store.Invalid("migrate", "", err)
	}
	item, err := schema.ToItem(ent)
	if err != nil {
		return nil, store.Invalid("migrate", "", err)
	}
	return append([]schema.Item{item}, schema.GuardItems(ent)...), nil
}

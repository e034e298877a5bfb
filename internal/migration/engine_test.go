package migration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/site-tracker/internal/clock/fake"
	"github.com/JakeFAU/site-tracker/internal/id/uuid"
	"github.com/JakeFAU/site-tracker/internal/migration"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/retry"
	"github.com/JakeFAU/site-tracker/internal/schema"
	"github.com/JakeFAU/site-tracker/internal/storage/dynamo"
	"github.com/JakeFAU/site-tracker/internal/storage/dynamo/dynamotest"
	"github.com/JakeFAU/site-tracker/internal/store"
)

const tableName = "strata_migration"

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// sliceSource serves entities from memory in id order, batch at a time.
type sliceSource struct {
	entities map[model.Kind][]model.Entity
	failOn   map[model.Kind]error

	mu    sync.Mutex
	order []model.Kind
}

func (s *sliceSource) Each(ctx context.Context, kind model.Kind, batch int, fn func([]model.Entity) error) error {
	s.mu.Lock()
	s.order = append(s.order, kind)
	s.mu.Unlock()

	items := s.entities[kind]
	for start := 0; start < len(items); start += batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batch, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	if err := s.failOn[kind]; err != nil {
		return err
	}
	return nil
}

func (s *sliceSource) firstSeen(kind model.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range s.order {
		if k == kind {
			return i
		}
	}
	return -1
}

func prepared(entities ...model.Entity) []model.Entity {
	for _, e := range entities {
		e.Prepare(now)
	}
	return entities
}

func dataset() map[model.Kind][]model.Entity {
	return map[model.Kind][]model.Entity{
		model.KindUser: prepared(
			&model.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
			&model.User{ID: "u2", Email: "grace@example.com", Name: "Grace"},
		),
		model.KindProject: prepared(
			&model.Project{ID: "p1", UserID: "u1", Domain: "example.com", Name: "Example"},
		),
		model.KindPage: prepared(
			&model.Page{ID: "pg1", ProjectID: "p1", URL: "https://example.com/"},
			&model.Page{ID: "pg2", ProjectID: "p1", URL: "https://example.com/about"},
		),
		model.KindHealthSnapshot: prepared(
			&model.HealthSnapshot{ID: "h1", ProjectID: "p1", OverallScore: 70},
		),
		model.KindRecommendation: prepared(
			&model.Recommendation{ID: "r1", ProjectID: "p1", Category: "seo", Issue: "missing title"},
		),
		model.KindAlert: prepared(
			&model.Alert{ID: "a1", UserID: "u1", ProjectID: "p1", Type: "score_drop", Message: "score dropped"},
		),
		model.KindOptimizationRecord: prepared(
			&model.OptimizationRecord{ID: "o1", ProjectID: "p1", PageURL: "https://example.com/", OptimizationType: "title", BeforeScore: 40, AfterScore: 80},
		),
	}
}

type target struct {
	client *dynamotest.Client
	store  *dynamo.Store
}

func newTarget(t *testing.T) target {
	t.Helper()
	client := dynamotest.New()
	s, err := dynamo.NewWithAPI(client, tableName, uuid.New(), fake.New(now), nil)
	require.NoError(t, err)
	_, err = s.EnsureTable(context.Background())
	require.NoError(t, err)
	return target{client: client, store: s}
}

func fastRetry(attempts int) *retry.Policy {
	return retry.NewPolicy(attempts, time.Millisecond, time.Millisecond).
		WithSleep(func(context.Context, time.Duration) error { return nil })
}

func newEngine(t *testing.T, src migration.Source, dst migration.Target, opts migration.Options) *migration.Engine {
	t.Helper()
	if opts.Retry == nil {
		opts.Retry = fastRetry(3)
	}
	e, err := migration.New(src, dst, opts, fake.New(now), nil)
	require.NoError(t, err)
	return e
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	src := &sliceSource{}
	_, err := migration.New(nil, nil, migration.Options{}, nil, nil)
	require.Error(t, err)
	_, err = migration.New(src, nil, migration.Options{}, nil, nil)
	require.Error(t, err)
	_, err = migration.New(src, nil, migration.Options{DryRun: true}, nil, nil)
	require.NoError(t, err)
	_, err = migration.New(src, nil, migration.Options{DryRun: true, BatchSize: -1}, nil, nil)
	require.Error(t, err)
	_, err = migration.New(src, nil, migration.Options{DryRun: true, Kinds: []model.Kind{"widget"}}, nil, nil)
	require.Error(t, err)
}

func TestRunMigratesEveryKind(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	src := &sliceSource{entities: dataset()}
	report, err := newEngine(t, src, dst.store, migration.Options{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.DryRun)
	assert.Equal(t, 9, report.Attempted())
	assert.Zero(t, report.Failed())
	assert.False(t, report.Incomplete())
	for kind, kr := range report.Kinds {
		assert.Equal(t, kr.Attempted, kr.Succeeded, "kind %s", kind)
	}

	// 9 entities plus one guard per user and per page.
	assert.Len(t, dst.client.Items(tableName), 13)

	ctx := context.Background()
	u, err := store.As[*model.User](dst.store.GetByUnique(ctx, model.KindUser, "email", "ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	pages, err := dst.store.ListChildren(ctx, model.KindProject, "p1", model.KindPage, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	latest, err := store.As[*model.HealthSnapshot](dst.store.LatestChild(ctx, model.KindProject, "p1", model.KindHealthSnapshot))
	require.NoError(t, err)
	assert.Equal(t, 70, latest.OverallScore)

	recs, err := dst.store.ListByCategory(ctx, "seo", store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].ID)
}

func TestRunOrdersPhases(t *testing.T) {
	t.Parallel()

	src := &sliceSource{entities: dataset()}
	_, err := newEngine(t, src, newTarget(t).store, migration.Options{}).Run(context.Background())
	require.NoError(t, err)

	users := src.firstSeen(model.KindUser)
	projects := src.firstSeen(model.KindProject)
	assert.Equal(t, 0, users)
	assert.Equal(t, 1, projects)
	for _, kind := range migration.Phases[2] {
		assert.Greater(t, src.firstSeen(kind), projects, "kind %s", kind)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	src := &sliceSource{entities: dataset()}
	engine := newEngine(t, src, dst.store, migration.Options{})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	first := dst.client.Items(tableName)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed())
	assert.Equal(t, first, dst.client.Items(tableName))
}

func TestDryRunPlansWithoutWriting(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	src := &sliceSource{entities: dataset()}
	report, err := newEngine(t, src, dst.store, migration.Options{DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Zero(t, dst.client.Calls("BatchWriteItem"))
	assert.Empty(t, dst.client.Items(tableName))

	users := report.Kinds[model.KindUser]
	require.NotNil(t, users)
	assert.Equal(t, 2, users.Succeeded)
	assert.Contains(t, users.Planned, migration.Key{PK: "USER#u1", SK: "USER#u1"})
	assert.Contains(t, users.Planned, migration.Key{
		PK: "UNIQUE#" + schema.EmailKey("ada@example.com"),
		SK: "UNIQUE#" + schema.EmailKey("ada@example.com"),
	})
	assert.Len(t, report.Kinds[model.KindPage].Planned, 4)
}

func TestInvalidEntityIsCountedAndSkipped(t *testing.T) {
	t.Parallel()

	data := dataset()
	data[model.KindProject] = append(data[model.KindProject], &model.Project{ID: "p2", UserID: "u1", Status: model.ProjectActive})

	dst := newTarget(t)
	report, err := newEngine(t, &sliceSource{entities: data}, dst.store, migration.Options{}).Run(context.Background())
	require.NoError(t, err)

	projects := report.Kinds[model.KindProject]
	assert.Equal(t, 2, projects.Attempted)
	assert.Equal(t, 1, projects.Succeeded)
	assert.Equal(t, 1, projects.Failed)
	require.Len(t, projects.Failures, 1)
	assert.Equal(t, "p2", projects.Failures[0].ID)
	assert.Equal(t, store.KindValidation, projects.Failures[0].Kind)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 2, report.Kinds[model.KindPage].Succeeded)
}

func TestThrottledWritesAreRetriedThenReported(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	dst.client.FailOn("BatchWriteItem", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"})

	data := map[model.Kind][]model.Entity{
		model.KindUser: prepared(&model.User{ID: "u1", Email: "ada@example.com"}),
	}
	report, err := newEngine(t, &sliceSource{entities: data}, dst.store, migration.Options{Retry: fastRetry(3)}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, dst.client.Calls("BatchWriteItem"))
	users := report.Kinds[model.KindUser]
	assert.Equal(t, 1, users.Failed)
	require.Len(t, users.Failures, 1)
	assert.Equal(t, store.KindCapacity, users.Failures[0].Kind)
}

func TestPermanentWriteErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	dst.client.FailOn("BatchWriteItem", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"})

	data := map[model.Kind][]model.Entity{
		model.KindUser: prepared(&model.User{ID: "u1", Email: "ada@example.com"}),
	}
	report, err := newEngine(t, &sliceSource{entities: data}, dst.store, migration.Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, dst.client.Calls("BatchWriteItem"))
	assert.Equal(t, store.KindAuth, report.Kinds[model.KindUser].Failures[0].Kind)
}

func TestGuardHeldByAnotherEntityIsConflict(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	ctx := context.Background()
	_, err := dst.store.Create(ctx, &model.User{ID: "existing", Email: "ada@example.com", Name: "Already here"})
	require.NoError(t, err)

	data := map[model.Kind][]model.Entity{
		model.KindUser: prepared(
			&model.User{ID: "u1", Email: "ADA@example.com", Name: "Ada"},
			&model.User{ID: "u2", Email: "grace@example.com", Name: "Grace"},
		),
	}
	engine := newEngine(t, &sliceSource{entities: data}, dst.store, migration.Options{})
	for range 2 {
		report, err := engine.Run(ctx)
		require.NoError(t, err)

		users := report.Kinds[model.KindUser]
		assert.Equal(t, 1, users.Succeeded)
		require.Len(t, users.Failures, 1)
		assert.Equal(t, "u1", users.Failures[0].ID)
		assert.Equal(t, store.KindConflict, users.Failures[0].Kind)
	}

	owner, err := dst.store.GetByUnique(ctx, model.KindUser, "email", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "existing", owner.GetID())
	_, err = dst.store.Get(ctx, model.KindUser, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = dst.store.Get(ctx, model.KindUser, "u2")
	require.NoError(t, err)
}

func TestSourceFailureStaysWithItsKind(t *testing.T) {
	t.Parallel()

	src := &sliceSource{
		entities: dataset(),
		failOn:   map[model.Kind]error{model.KindAlert: errors.New("connection reset")},
	}
	report, err := newEngine(t, src, newTarget(t).store, migration.Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Incomplete())
	assert.Contains(t, report.Kinds[model.KindAlert].Err, "connection reset")
	assert.Empty(t, report.Kinds[model.KindOptimizationRecord].Err)
	assert.Equal(t, 1, report.Kinds[model.KindOptimizationRecord].Succeeded)
}

func TestRunLimitedToKinds(t *testing.T) {
	t.Parallel()

	src := &sliceSource{entities: dataset()}
	report, err := newEngine(t, src, newTarget(t).store, migration.Options{
		Kinds: []model.Kind{model.KindUser, model.KindPage},
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Kinds, 2)
	assert.Equal(t, -1, src.firstSeen(model.KindProject))
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := newEngine(t, &sliceSource{entities: dataset()}, newTarget(t).store, migration.Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Kinds, 1)
}

func TestReportRender(t *testing.T) {
	t.Parallel()

	dst := newTarget(t)
	data := dataset()
	data[model.KindProject] = append(data[model.KindProject], &model.Project{ID: "p2", UserID: "u1", Status: model.ProjectActive})
	report, err := newEngine(t, &sliceSource{entities: data}, dst.store, migration.Options{}).Run(context.Background())
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, report.Render(&text, migration.FormatText))
	assert.Contains(t, text.String(), "KIND")
	assert.Contains(t, text.String(), "project")
	assert.Contains(t, text.String(), "failed project p2 (validation)")

	var js bytes.Buffer
	require.NoError(t, report.Render(&js, migration.FormatJSON))
	var decoded migration.Report
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Kinds[model.KindProject].Failed)

	var ym bytes.Buffer
	require.NoError(t, report.Render(&ym, migration.FormatYAML))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &generic))
	assert.Contains(t, generic, "kinds")
	assert.Equal(t, false, generic["dry_run"])

	require.Error(t, report.Render(&text, "xml"))
}

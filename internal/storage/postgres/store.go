// Package postgres implements the relational RecordStore on a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/schema"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Backend is the tag reported in errors and metrics.
const Backend = "postgres"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// MigrateOnStart applies pending schema migrations in New.
	MigrateOnStart bool
}

// Pool is the subset of *pgxpool.Pool used by Store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the relational RecordStore.
type Store struct {
	pool   Pool
	ids    store.IDGenerator
	clock  store.Clock
	logger *zap.Logger
}

var _ store.RecordStore = (*Store)(nil)

// New opens a pool from cfg and optionally migrates the schema.
func New(ctx context.Context, cfg Config, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MigrateOnStart {
		if _, err := Migrate(pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return NewWithPool(pool, ids, clock, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, ids: ids, clock: clock, logger: logger.Named("postgres")}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "ping", start, err) }(time.Now())
	if err := s.pool.Ping(ctx); err != nil {
		return classify("record ping", err)
	}
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

func columnList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func insertSQL(row schema.Row) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		row.Table, columnList(row.Columns), placeholders(1, len(row.Columns)))
}

// Create inserts e. Foreign keys enforce parent existence and unique
// constraints enforce email and (project_id, url) uniqueness.
func (s *Store) Create(ctx context.Context, e model.Entity) (id string, err error) {
	const op = "record create"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "create", start, err) }(time.Now())

	id, err = store.PrepareCreate(op, Backend, e, s.ids, s.clock)
	if err != nil {
		return "", err
	}
	row, err := schema.ToRow(e)
	if err != nil {
		return "", store.Invalid(op, Backend, err)
	}
	if _, err := s.pool.Exec(ctx, insertSQL(row), row.Values...); err != nil {
		return "", classify(op, fmt.Errorf("insert %s %s: %w", e.Kind(), id, err))
	}
	s.logger.Debug("Created record", zap.String("kind", string(e.Kind())), zap.String("id", id))
	return id, nil
}

func (s *Store) query(ctx context.Context, kind model.Kind, sql string, args ...any) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", kind, err)
		}
		e, err := schema.FromRow(kind, values)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func selectSQL(t schema.Table) string {
	return fmt.Sprintf("SELECT %s FROM %s", columnList(t.ColumnNames()), t.Name)
}

func (s *Store) one(ctx context.Context, op string, kind model.Kind, sql string, args ...any) (model.Entity, error) {
	items, err := s.query(ctx, kind, sql, args...)
	if err != nil {
		return nil, classify(op, fmt.Errorf("select %s: %w", kind, err))
	}
	if len(items) == 0 {
		return nil, store.Errorf(store.KindNotFound, op, Backend, "%s not found", kind)
	}
	return items[0], nil
}

// Get loads one entity by id.
func (s *Store) Get(ctx context.Context, kind model.Kind, id string) (e model.Entity, err error) {
	const op = "record get"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "get", start, err) }(time.Now())

	t, err := schema.TableFor(kind)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	if id == "" {
		return nil, store.Errorf(store.KindValidation, op, Backend, "id is required")
	}
	return s.one(ctx, op, kind, selectSQL(t)+" WHERE id = $1", id)
}

// GetByUnique loads a user by email.
func (s *Store) GetByUnique(ctx context.Context, kind model.Kind, field, value string) (e model.Entity, err error) {
	const op = "record get_by_unique"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "get_by_unique", start, err) }(time.Now())

	email, err := store.CheckUnique(op, Backend, kind, field, value)
	if err != nil {
		return nil, err
	}
	t, err := schema.TableFor(kind)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	return s.one(ctx, op, kind, selectSQL(t)+" WHERE email = $1", email)
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(column string, value any) {
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", quote(column), len(w.args)))
}

func (w *where) addFilter(f store.Filter) {
	if f.Status != "" {
		w.add("status", f.Status)
	}
	if f.Category != "" {
		w.add("category", f.Category)
	}
	if f.Priority != "" {
		w.add("priority", f.Priority)
	}
}

func (w *where) String() string {
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func listSQL(t schema.Table, w *where, limit int) string {
	sql := selectSQL(t) + w.String() + " ORDER BY " + t.OrderBy
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql
}

// ListChildren returns the children of one parent, most recent first.
func (s *Store) ListChildren(
	ctx context.Context,
	parentKind model.Kind,
	parentID string,
	childKind model.Kind,
	f store.Filter,
) (items []model.Entity, err error) {
	const op = "record list_children"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "list_children", start, err) }(time.Now())

	if err := store.CheckChildren(op, Backend, parentKind, parentID, childKind, f); err != nil {
		return nil, err
	}
	t, err := schema.TableFor(childKind)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	w := &where{}
	w.add(schema.ParentColumn(childKind), parentID)
	w.addFilter(f)
	items, err = s.query(ctx, childKind, listSQL(t, w, f.Limit), w.args...)
	if err != nil {
		return nil, classify(op, fmt.Errorf("list %s of %s %s: %w", childKind, parentKind, parentID, err))
	}
	return items, nil
}

// LatestChild returns the most recent child.
func (s *Store) LatestChild(ctx context.Context, parentKind model.Kind, parentID string, childKind model.Kind) (model.Entity, error) {
	items, err := s.ListChildren(ctx, parentKind, parentID, childKind, store.Filter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.Errorf(store.KindNotFound, "record latest_child", Backend, "%s has no %s", parentKind, childKind)
	}
	return items[0], nil
}

// ListByCategory returns recommendations in category across all projects.
func (s *Store) ListByCategory(ctx context.Context, category string, f store.Filter) (recs []*model.Recommendation, err error) {
	const op = "record list_by_category"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "list_by_category", start, err) }(time.Now())

	if category == "" {
		return nil, store.Errorf(store.KindValidation, op, Backend, "category is required")
	}
	if err := f.Check(model.KindRecommendation); err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	f.Category = category
	t, err := schema.TableFor(model.KindRecommendation)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	w := &where{}
	w.addFilter(f)
	items, err := s.query(ctx, model.KindRecommendation, listSQL(t, w, f.Limit), w.args...)
	if err != nil {
		return nil, classify(op, fmt.Errorf("list recommendations in %s: %w", category, err))
	}
	recs = make([]*model.Recommendation, 0, len(items))
	for _, e := range items {
		r, err := store.As[*model.Recommendation](e, nil)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// UpdateFields applies patch to the stored entity. Status changes on
// recommendations and alerts only apply if the stored status still equals
// the one the transition was checked against.
func (s *Store) UpdateFields(ctx context.Context, kind model.Kind, id string, patch model.Patch) (e model.Entity, err error) {
	const op = "record update_fields"
	defer func(start time.Time) { metrics.ObserveRecord(Backend, "update_fields", start, err) }(time.Now())

	current, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	next, changed, err := model.Apply(current, patch, s.clock.Now())
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	row, err := schema.ToRow(next)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	cols, vals, err := row.Pick(changed)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}
	t, err := schema.TableFor(kind)
	if err != nil {
		return nil, store.Invalid(op, Backend, err)
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quote(c), i+1)
	}
	args := append(vals, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", t.Name, strings.Join(sets, ", "), len(args))
	guarded := model.Guarded(kind, patch)
	if guarded {
		status, _ := model.Status(current)
		args = append(args, status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	sql += " RETURNING " + columnList(t.ColumnNames())

	items, err := s.query(ctx, kind, sql, args...)
	if err != nil {
		return nil, classify(op, fmt.Errorf("update %s %s: %w", kind, id, err))
	}
	if len(items) == 0 {
		if guarded {
			return nil, store.Errorf(store.KindConflict, op, Backend, "%s %s status changed concurrently", kind, id)
		}
		return nil, store.Errorf(store.KindNotFound, op, Backend, "%s not found", kind)
	}
	return items[0], nil
}

// Each streams every entity of kind in id order, batch rows at a time.
// Paging is keyset based so concurrent inserts do not shift pages.
func (s *Store) Each(ctx context.Context, kind model.Kind, batch int, fn func([]model.Entity) error) error {
	const op = "record export"
	t, err := schema.TableFor(kind)
	if err != nil {
		return store.Invalid(op, Backend, err)
	}
	if batch <= 0 {
		batch = 100
	}
	sql := selectSQL(t) + " WHERE id > $1 ORDER BY id LIMIT $2"
	after := ""
	for {
		items, err := s.query(ctx, kind, sql, after, batch)
		if err != nil {
			return classify(op, fmt.Errorf("export %s after %q: %w", kind, after, err))
		}
		if len(items) == 0 {
			return nil
		}
		if err := fn(items); err != nil {
			return err
		}
		if len(items) < batch {
			return nil
		}
		after = items[len(items)-1].GetID()
	}
}

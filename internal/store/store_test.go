package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-tracker/internal/clock/fake"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/store"
)

func TestErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load project: %w", store.Errorf(store.KindNotFound, "get", "postgres", "project %s", "p1"))
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, store.KindNotFound, store.KindOf(err))
	assert.Equal(t, "get: postgres: not_found: project p1", errors.Unwrap(err).Error())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want store.ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "classified", err: store.E(store.KindCapacity, "put", "dynamodb", nil), want: store.KindCapacity},
		{name: "model validation", err: fmt.Errorf("user: %w", model.ErrInvalid), want: store.KindValidation},
		{name: "deadline", err: context.DeadlineExceeded, want: store.KindConnectivity},
		{name: "bare sentinel", err: fmt.Errorf("wrapped: %w", store.ErrAuth), want: store.KindAuth},
		{name: "unknown", err: errors.New("boom"), want: store.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, store.KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, store.IsRetryable(store.E(store.KindConnectivity, "get", "s3", nil)))
	assert.True(t, store.IsRetryable(store.E(store.KindCapacity, "put", "dynamodb", nil)))
	assert.True(t, store.IsRetryable(context.DeadlineExceeded))
	assert.False(t, store.IsRetryable(context.Canceled))
	assert.False(t, store.IsRetryable(store.E(store.KindConflict, "create", "postgres", nil)))
	assert.False(t, store.IsRetryable(store.E(store.KindAuth, "put", "s3", nil)))
	assert.False(t, store.IsRetryable(nil))
}

func TestFilterCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    model.Kind
		filter  store.Filter
		wantErr bool
	}{
		{name: "empty", kind: model.KindHealthSnapshot},
		{name: "page status", kind: model.KindPage, filter: store.Filter{Status: "broken"}},
		{name: "recommendation all", kind: model.KindRecommendation, filter: store.Filter{Status: "pending", Category: "seo", Priority: "high", Limit: 5}},
		{name: "alert priority", kind: model.KindAlert, filter: store.Filter{Priority: "low"}},
		{name: "snapshot status", kind: model.KindHealthSnapshot, filter: store.Filter{Status: "x"}, wantErr: true},
		{name: "page category", kind: model.KindPage, filter: store.Filter{Category: "seo"}, wantErr: true},
		{name: "project priority", kind: model.KindProject, filter: store.Filter{Priority: "high"}, wantErr: true},
		{name: "negative limit", kind: model.KindPage, filter: store.Filter{Limit: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.filter.Check(tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	rec := &model.Recommendation{
		Status:   model.RecommendationPending,
		Category: "seo",
		Priority: model.PriorityHigh,
	}
	assert.True(t, store.Filter{}.Matches(rec))
	assert.True(t, store.Filter{Status: "pending", Category: "seo", Priority: "high"}.Matches(rec))
	assert.False(t, store.Filter{Status: "accepted"}.Matches(rec))
	assert.False(t, store.Filter{Category: "performance"}.Matches(rec))
	assert.False(t, store.Filter{Priority: "low"}.Matches(rec))

	alert := &model.Alert{Status: model.AlertActive, Priority: model.PriorityLow}
	assert.True(t, store.Filter{Priority: "low"}.Matches(alert))
	assert.False(t, store.Filter{Status: "dismissed"}.Matches(alert))
}

func TestCheckChildren(t *testing.T) {
	t.Parallel()

	require.NoError(t, store.CheckChildren("list", "test", model.KindUser, "u1", model.KindAlert, store.Filter{}))

	err := store.CheckChildren("list", "test", model.KindUser, "u1", model.KindPage, store.Filter{})
	require.ErrorIs(t, err, store.ErrValidation)

	err = store.CheckChildren("list", "test", model.KindProject, "", model.KindPage, store.Filter{})
	require.ErrorIs(t, err, store.ErrValidation)

	err = store.CheckChildren("list", "test", model.KindProject, "p1", model.KindPage, store.Filter{Category: "seo"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestCheckUnique(t *testing.T) {
	t.Parallel()

	email, err := store.CheckUnique("get", "test", model.KindUser, "email", "  Ada@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	_, err = store.CheckUnique("get", "test", model.KindUser, "name", "Ada")
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = store.CheckUnique("get", "test", model.KindPage, "email", "a@b.c")
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = store.CheckUnique("get", "test", model.KindUser, "email", "   ")
	require.ErrorIs(t, err, store.ErrValidation)
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func TestPrepareCreate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := fake.New(now)

	u := &model.User{Email: " Ada@Example.com "}
	id, err := store.PrepareCreate("create", "test", u, fixedIDs{id: "u1"}, clock)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.True(t, u.CreatedAt.Equal(now))

	kept := &model.User{ID: "given", Email: "b@example.com"}
	id, err = store.PrepareCreate("create", "test", kept, fixedIDs{id: "ignored"}, clock)
	require.NoError(t, err)
	assert.Equal(t, "given", id)

	_, err = store.PrepareCreate("create", "test", &model.User{Email: "nope"}, fixedIDs{id: "u2"}, clock)
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = store.PrepareCreate("create", "test", nil, fixedIDs{id: "u3"}, clock)
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = store.PrepareCreate("create", "test", &model.User{Email: "c@example.com"}, fixedIDs{err: errors.New("entropy")}, clock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy")
}

// usersByEmail is a RecordStore stub holding users only.
type usersByEmail struct {
	store.RecordStore
	users     map[string]*model.User
	createErr error
}

func (s *usersByEmail) Create(_ context.Context, e model.Entity) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	u := e.(*model.User)
	if _, ok := s.users[u.Email]; ok {
		return "", store.Errorf(store.KindConflict, "create", "stub", "email taken")
	}
	s.users[u.Email] = u
	return u.ID, nil
}

func (s *usersByEmail) GetByUnique(_ context.Context, _ model.Kind, _, value string) (model.Entity, error) {
	u, ok := s.users[value]
	if !ok {
		return nil, store.E(store.KindNotFound, "get", "stub", nil)
	}
	return u, nil
}

func TestEnsureUser(t *testing.T) {
	t.Parallel()

	existing := &model.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}
	s := &usersByEmail{users: map[string]*model.User{existing.Email: existing}}

	got, err := store.EnsureUser(context.Background(), s, &model.User{ID: "u2", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	fresh := &model.User{ID: "u3", Email: "grace@example.com"}
	got, err = store.EnsureUser(context.Background(), s, fresh)
	require.NoError(t, err)
	assert.Same(t, fresh, got)

	s.createErr = store.E(store.KindConnectivity, "create", "stub", nil)
	_, err = store.EnsureUser(context.Background(), s, &model.User{ID: "u4", Email: "x@example.com"})
	require.ErrorIs(t, err, store.ErrConnectivity)
}

func TestAs(t *testing.T) {
	t.Parallel()

	u, err := store.As[*model.User](&model.User{ID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = store.As[*model.Project](&model.User{ID: "u1"}, nil)
	require.Error(t, err)

	boom := errors.New("boom")
	_, err = store.As[*model.User](nil, boom)
	require.ErrorIs(t, err, boom)
}

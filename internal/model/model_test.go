package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.FixedZone("EST", -5*3600))

func TestPrepareNormalizesUser(t *testing.T) {
	t.Parallel()

	u := &User{ID: "u1", Email: "  Ada@Example.COM ", Preferences: Preferences{Extensions: map[string]string{}}}
	u.Prepare(testNow)

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, time.UTC, u.CreatedAt.Location())
	assert.Equal(t, 123456000, u.CreatedAt.Nanosecond())
	assert.Equal(t, u.CreatedAt, u.UpdatedAt)
	assert.Nil(t, u.Preferences.Extensions)
	require.NoError(t, u.Validate())
}

func TestValidateRejectsBadEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		entity Entity
		field  string
	}{
		{"missing id", &User{Email: "a@b.c", Role: RoleUser}, "id"},
		{"bad email", &User{ID: "u", Email: "nope", Role: RoleUser}, "email"},
		{"bad role", &User{ID: "u", Email: "a@b.c", Role: "owner"}, "role"},
		{"empty domain", &Project{ID: "p", UserID: "u", Status: ProjectActive}, "domain"},
		{"score above range", &HealthSnapshot{ID: "h", ProjectID: "p", Timestamp: testNow, Performance: 101}, "performance"},
		{"negative score", &OptimizationRecord{ID: "o", ProjectID: "p", PageURL: "/", OptimizationType: "meta", BeforeScore: -1}, "before_score"},
		{"page without url", &Page{ID: "pg", ProjectID: "p", Status: PageHealthy}, "url"},
		{"recommendation without category", &Recommendation{ID: "r", ProjectID: "p", Priority: PriorityLow, Status: RecommendationPending}, "category"},
		{"active alert with dismissed_at", &Alert{ID: "a", UserID: "u", Type: "drop", Priority: PriorityLow, Status: AlertActive, DismissedAt: &testNow}, "dismissed_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.entity.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestAlertPrepareSetsDismissedAtWhenNotActive(t *testing.T) {
	t.Parallel()

	a := &Alert{ID: "a", UserID: "u", Type: "score_drop", Status: AlertResolved}
	a.Prepare(testNow)
	require.NotNil(t, a.DismissedAt)
	assert.Equal(t, a.CreatedAt, *a.DismissedAt)
	require.NoError(t, a.Validate())
}

func TestRecommendationTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, RecommendationPending.CanTransition(RecommendationAccepted))
	assert.True(t, RecommendationAccepted.CanTransition(RecommendationImplemented))
	assert.True(t, RecommendationImplemented.CanTransition(RecommendationImplemented))
	assert.False(t, RecommendationImplemented.CanTransition(RecommendationPending))
	assert.False(t, RecommendationDismissed.CanTransition(RecommendationAccepted))
	assert.False(t, RecommendationAccepted.CanTransition(RecommendationPending))
}

func TestAlertTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, AlertActive.CanTransition(AlertDismissed))
	assert.True(t, AlertDismissed.CanTransition(AlertResolved))
	assert.False(t, AlertResolved.CanTransition(AlertActive))
	assert.False(t, AlertDismissed.CanTransition(AlertActive))
}

func TestApplyPatch(t *testing.T) {
	t.Parallel()

	t.Run("dismissing an alert stamps dismissed_at", func(t *testing.T) {
		t.Parallel()
		cur := &Alert{ID: "a", UserID: "u", Type: "drop", Message: "score fell"}
		cur.Prepare(testNow)

		later := testNow.Add(time.Hour)
		next, changed, err := Apply(cur, Patch{"status": AlertDismissed}, later)
		require.NoError(t, err)
		alert := next.(*Alert)
		assert.Equal(t, AlertDismissed, alert.Status)
		require.NotNil(t, alert.DismissedAt)
		assert.Equal(t, Timestamp(later), *alert.DismissedAt)
		assert.Equal(t, []string{"dismissed_at", "status"}, changed)
		assert.Equal(t, AlertActive, cur.Status, "current must not be modified")
	})

	t.Run("backward recommendation move is rejected", func(t *testing.T) {
		t.Parallel()
		cur := &Recommendation{ID: "r", ProjectID: "p", Category: "seo", Status: RecommendationImplemented}
		cur.Prepare(testNow)
		_, _, err := Apply(cur, Patch{"status": "pending"}, testNow)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("immutable field is rejected", func(t *testing.T) {
		t.Parallel()
		cur := &User{ID: "u", Email: "a@b.c"}
		cur.Prepare(testNow)
		_, _, err := Apply(cur, Patch{"email": "x@y.z"}, testNow)
		var fe *FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "email", fe.Field)
	})

	t.Run("wrong value type is rejected", func(t *testing.T) {
		t.Parallel()
		cur := &Page{ID: "pg", ProjectID: "p", URL: "https://x.test/"}
		cur.Prepare(testNow)
		_, _, err := Apply(cur, Patch{"word_count": "many"}, testNow)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("typed extension struct replaces the old one", func(t *testing.T) {
		t.Parallel()
		cur := &Project{ID: "p", UserID: "u", Domain: "example.com"}
		cur.Prepare(testNow)
		later := testNow.Add(time.Minute)
		next, changed, err := Apply(cur, Patch{"settings": Settings{MaxPages: 50}}, later)
		require.NoError(t, err)
		assert.Equal(t, 50, next.(*Project).Settings.MaxPages)
		assert.Equal(t, Timestamp(later), next.(*Project).UpdatedAt)
		assert.Equal(t, []string{"settings", "updated_at"}, changed)
	})

	t.Run("empty patch", func(t *testing.T) {
		t.Parallel()
		_, _, err := Apply(&User{ID: "u"}, Patch{}, testNow)
		require.ErrorIs(t, err, ErrInvalid)
	})
}

func TestKindRelationships(t *testing.T) {
	t.Parallel()

	assert.True(t, ChildOf(KindUser, KindProject))
	assert.True(t, ChildOf(KindUser, KindAlert))
	assert.True(t, ChildOf(KindProject, KindHealthSnapshot))
	assert.False(t, ChildOf(KindProject, KindAlert))
	assert.False(t, ChildOf(KindUser, KindPage))
	assert.True(t, KindHealthSnapshot.TimeSeries())
	assert.False(t, KindPage.TimeSeries())

	a := &Alert{ID: "a", UserID: "u", ProjectID: "p"}
	assert.Equal(t, []Ref{{Kind: KindUser, ID: "u"}, {Kind: KindProject, ID: "p"}}, a.References())

	_, err := Kind("widget").New()
	require.ErrorIs(t, err, ErrInvalid)
}

func TestGuarded(t *testing.T) {
	t.Parallel()

	assert.True(t, Guarded(KindAlert, Patch{"status": "resolved"}))
	assert.False(t, Guarded(KindAlert, Patch{"message": "x"}))
	assert.False(t, Guarded(KindProject, Patch{"status": "inactive"}))
}

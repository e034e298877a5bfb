package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-tracker/internal/store"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestNewPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewPolicy(0, 0, 0)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	assert.Equal(t, DefaultBaseDelay, p.baseDelay)
	assert.Equal(t, DefaultMaxDelay, p.maxDelay)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewPolicy(3, time.Millisecond, time.Second)
	throttled := store.E(store.KindCapacity, "put", "dynamodb", nil)

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(throttled, 1))
	assert.True(t, p.ShouldRetry(store.E(store.KindConnectivity, "put", "s3", nil), 2))
	assert.False(t, p.ShouldRetry(throttled, 3), "attempts exhausted")
	assert.False(t, p.ShouldRetry(store.E(store.KindValidation, "put", "s3", nil), 1))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
}

func TestBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := NewPolicy(10, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		got := p.Backoff(attempt)
		want := 100 * time.Millisecond << (attempt - 1)
		if want > 400*time.Millisecond {
			want = 400 * time.Millisecond
		}
		assert.GreaterOrEqual(t, got, want/2, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want, "attempt %d", attempt)
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	t.Parallel()

	p := NewPolicy(3, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return store.E(store.KindCapacity, "put", "dynamodb", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	p := NewPolicy(5, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		return store.E(store.KindValidation, "put", "dynamodb", errors.New("bad item"))
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewPolicy(2, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		return store.E(store.KindConnectivity, "put", "dynamodb", nil)
	})
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.Equal(t, 2, attempts)
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(5, time.Hour, time.Hour)
	calls := 0
	attempts, err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return store.E(store.KindConnectivity, "put", "dynamodb", nil)
	})
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

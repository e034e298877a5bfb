package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-tracker/internal/store"
)

func TestClientPutCopiesData(t *testing.T) {
	t.Parallel()

	c := NewClient()
	payload := []byte("content")
	require.NoError(t, c.PutObject(context.Background(), "path/page.html", payload, "text/html"))
	payload[0] = 'C'

	got, err := c.GetObject(context.Background(), "path/page.html")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
	assert.Equal(t, "text/html", c.ContentType("path/page.html"))

	err = c.PutObject(context.Background(), "path/page.html", payload, "text/html")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestClientFailureInjection(t *testing.T) {
	t.Parallel()

	c := NewClientWithTag("s3")
	boom := store.E(store.KindConnectivity, "put", "s3", nil)
	c.FailOn(OpPut, boom)
	assert.ErrorIs(t, c.PutObject(context.Background(), "k", nil, ""), store.ErrConnectivity)
	require.NoError(t, c.Ping(context.Background()))

	c.FailOn(OpAll, store.E(store.KindAuth, "any", "s3", nil))
	assert.ErrorIs(t, c.Ping(context.Background()), store.ErrAuth)
	assert.ErrorIs(t, c.PutObject(context.Background(), "k", nil, ""), store.ErrConnectivity, "specific op wins")

	c.FailOn(OpPut, nil)
	c.FailOn(OpAll, nil)
	require.NoError(t, c.PutObject(context.Background(), "k", nil, ""))
	assert.Equal(t, 1, c.Len())
}

func TestClientFailAfter(t *testing.T) {
	t.Parallel()

	c := NewClientWithTag("s3")
	ctx := context.Background()
	c.FailAfter(OpPut, 1, store.E(store.KindConnectivity, "put", "s3", nil))

	require.NoError(t, c.PutObject(ctx, "a", nil, ""))
	assert.ErrorIs(t, c.PutObject(ctx, "b", nil, ""), store.ErrConnectivity)
	assert.ErrorIs(t, c.PutObject(ctx, "c", nil, ""), store.ErrConnectivity)

	c.FailAfter(OpPut, 0, nil)
	require.NoError(t, c.PutObject(ctx, "b", nil, ""))
	assert.Equal(t, 2, c.Len())
}

func TestClientListAndPresign(t *testing.T) {
	t.Parallel()

	c := NewClient()
	ctx := context.Background()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		require.NoError(t, c.PutObject(ctx, k, []byte(k), ""))
	}
	var keys []string
	for k, err := range c.ListObjects(ctx, "b/") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"b/1", "b/2"}, keys)

	u, err := c.PresignGet(ctx, "a/1", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "memory://memory/a/1?expires=")

	require.NoError(t, c.DeleteObject(ctx, "missing"))
	assert.ErrorIs(t, c.HeadObject(ctx, "missing"), store.ErrNotFound)
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/site-tracker/internal/store"
)

func TestInit(t *testing.T) {
	Init()
	Init()

	assert.NotNil(t, blobOperationsTotal)
	assert.NotNil(t, recordOperationsTotal)
	assert.NotNil(t, migrationItemsTotal)
	assert.NotNil(t, componentHealthy)
}

func TestResult(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "not_found", Result(store.E(store.KindNotFound, "get", "s3", nil)))
	assert.Equal(t, "unknown", Result(errors.New("boom")))
}

func TestObserveBlobAndFallback(t *testing.T) {
	start := time.Now()
	ObserveBlob("test-backend", "put", start, nil)
	ObserveBlob("test-backend", "put", start, store.E(store.KindConnectivity, "put", "test-backend", nil))
	ObserveFallback("test-backend", "local", store.E(store.KindAuth, "put", "test-backend", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(blobOperationsTotal.WithLabelValues("test-backend", "put", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(blobOperationsTotal.WithLabelValues("test-backend", "put", "connectivity")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(blobFallbackTotal.WithLabelValues("test-backend", "local", "auth")), 0)
}

func TestObserveMigration(t *testing.T) {
	ObserveMigrationItem("test_kind", nil)
	ObserveMigrationItem("test_kind", nil)
	ObserveMigrationRetry("test_kind")

	assert.InDelta(t, 2, testutil.ToFloat64(migrationItemsTotal.WithLabelValues("test_kind", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(migrationRetriesTotal.WithLabelValues("test_kind")), 0)
}

func TestSetComponentHealth(t *testing.T) {
	SetComponentHealth("test-component", true)
	assert.InDelta(t, 1, testutil.ToFloat64(componentHealthy.WithLabelValues("test-component")), 0)
	SetComponentHealth("test-component", false)
	assert.InDelta(t, 0, testutil.ToFloat64(componentHealthy.WithLabelValues("test-component")), 0)
}

// Package metrics exposes Prometheus collectors for the storage layer.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/site-tracker/internal/store"
)

var (
	blobOperationsTotal          *prometheus.CounterVec
	blobOperationDurationSeconds *prometheus.HistogramVec
	blobFallbackTotal            *prometheus.CounterVec
	recordOperationsTotal        *prometheus.CounterVec
	recordOperationDuration      *prometheus.HistogramVec
	migrationItemsTotal          *prometheus.CounterVec
	migrationRetriesTotal        *prometheus.CounterVec
	componentHealthy             *prometheus.GaugeVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		blobOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blob_operations_total",
				Help: "Blob store operations, labeled by backend, operation and result.",
			},
			[]string{"backend", "op", "result"},
		)

		blobOperationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blob_operation_duration_seconds",
				Help:    "Blob store operation latency, labeled by backend and operation.",
				Buckets: latencyBuckets,
			},
			[]string{"backend", "op"},
		)

		blobFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blob_fallback_total",
				Help: "Writes redirected from the primary to the secondary blob backend.",
			},
			[]string{"from", "to", "reason"},
		)

		recordOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_operations_total",
				Help: "Record store operations, labeled by backend, operation and result.",
			},
			[]string{"backend", "op", "result"},
		)

		recordOperationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "record_operation_duration_seconds",
				Help:    "Record store operation latency, labeled by backend and operation.",
				Buckets: latencyBuckets,
			},
			[]string{"backend", "op"},
		)

		migrationItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migration_items_total",
				Help: "Entities processed by the migration engine, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		migrationRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migration_retries_total",
				Help: "Per-item write retries performed by the migration engine.",
			},
			[]string{"kind"},
		)

		componentHealthy = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storage_component_healthy",
				Help: "1 when the last health check of a storage component succeeded.",
			},
			[]string{"component"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Result maps an operation error to a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(store.KindOf(err))
}

// ObserveBlob records one blob store operation.
func ObserveBlob(backend, op string, start time.Time, err error) {
	Init()
	blobOperationsTotal.WithLabelValues(backend, op, Result(err)).Inc()
	blobOperationDurationSeconds.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// ObserveFallback records a write redirected to the secondary backend.
func ObserveFallback(from, to string, cause error) {
	Init()
	blobFallbackTotal.WithLabelValues(from, to, Result(cause)).Inc()
}

// ObserveRecord records one record store operation.
func ObserveRecord(backend, op string, start time.Time, err error) {
	Init()
	recordOperationsTotal.WithLabelValues(backend, op, Result(err)).Inc()
	recordOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// ObserveMigrationItem records the outcome of migrating one entity.
func ObserveMigrationItem(kind string, err error) {
	Init()
	migrationItemsTotal.WithLabelValues(kind, Result(err)).Inc()
}

// ObserveMigrationRetry counts a retried migration write.
func ObserveMigrationRetry(kind string) {
	Init()
	migrationRetriesTotal.WithLabelValues(kind).Inc()
}

// SetComponentHealth publishes the last health check result of a component.
func SetComponentHealth(component string, healthy bool) {
	Init()
	v := 0.0
	if healthy {
		v = 1
	}
	componentHealthy.WithLabelValues(component).Set(v)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package health reports the reachability of the record store and every blob
// backend.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-tracker/internal/clock/system"
	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Status is the overall or per-component verdict.
type Status string

// Statuses, from best to worst.
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component roles.
const (
	RoleRecords       = "records"
	RoleBlobPrimary   = "blob_primary"
	RoleBlobSecondary = "blob_secondary"
)

// Defaults applied by NewChecker.
const (
	DefaultLatencyThreshold = 500 * time.Millisecond
	DefaultDegradedWindow   = 5 * time.Minute
	DefaultTimeout          = 5 * time.Second
)

// Pinger is anything that can check its own backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// fallbackState is implemented by storage.Fallback.
type fallbackState interface {
	Backends() []storage.BlobStore
	LastFallback() time.Time
	Degraded(window time.Duration) bool
}

// Options tunes the checker.
type Options struct {
	// LatencyThreshold marks a reachable component degraded when its ping is slower.
	LatencyThreshold time.Duration
	// DegradedWindow is how long a fallback write keeps the report degraded.
	DegradedWindow time.Duration
	// Timeout bounds each component ping.
	Timeout time.Duration
}

// ComponentReport is the result of pinging one backend.
type ComponentReport struct {
	Role      string        `json:"role" yaml:"role"`
	Backend   string        `json:"backend" yaml:"backend"`
	Status    Status        `json:"status" yaml:"status"`
	Latency   time.Duration `json:"latency_ns" yaml:"latency"`
	ErrorKind string        `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the outcome of one Check.
type Report struct {
	Status       Status            `json:"status" yaml:"status"`
	CheckedAt    time.Time         `json:"checked_at" yaml:"checked_at"`
	Components   []ComponentReport `json:"components" yaml:"components"`
	LastFallback *time.Time        `json:"last_fallback,omitempty" yaml:"last_fallback,omitempty"`
}

type component struct {
	role    string
	backend string
	pinger  Pinger
}

// Checker pings storage components and folds the results into a Report.
type Checker struct {
	components []component
	fallback   fallbackState
	opts       Options
	clock      store.Clock
	logger     *zap.Logger
}

// NewChecker builds a checker for records and blobs. When blobs is a
// storage.Fallback each composed backend is reported separately.
func NewChecker(records Pinger, recordBackend string, blobs storage.BlobStore, opts Options, clock store.Clock, logger *zap.Logger) (*Checker, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.LatencyThreshold <= 0 {
		opts.LatencyThreshold = DefaultLatencyThreshold
	}
	if opts.DegradedWindow <= 0 {
		opts.DegradedWindow = DefaultDegradedWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Checker{
		components: []component{{role: RoleRecords, backend: recordBackend, pinger: records}},
		opts:       opts,
		clock:      clock,
		logger:     logger.Named("health"),
	}
	if fb, ok := blobs.(fallbackState); ok {
		c.fallback = fb
		for i, b := range fb.Backends() {
			role := RoleBlobSecondary
			if i == 0 {
				role = RoleBlobPrimary
			}
			c.components = append(c.components, component{role: role, backend: b.Backend(), pinger: b})
		}
	} else {
		c.components = append(c.components, component{role: RoleBlobPrimary, backend: blobs.Backend(), pinger: blobs})
	}
	return c, nil
}

// Check pings every component concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	results := make([]ComponentReport, len(c.components))
	var g errgroup.Group
	for i, comp := range c.components {
		g.Go(func() error {
			results[i] = c.ping(ctx, comp)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StatusHealthy,
		CheckedAt:  c.clock.Now(),
		Components: results,
	}
	if c.fallback != nil {
		if last := c.fallback.LastFallback(); !last.IsZero() {
			report.LastFallback = &last
		}
	}
	report.Status = c.overall(results)
	for _, r := range results {
		metrics.SetComponentHealth(r.Role+":"+r.Backend, r.Status != StatusUnhealthy)
	}
	if report.Status != StatusHealthy {
		c.logger.Warn("Storage health check not healthy", zap.String("status", string(report.Status)))
	}
	return report
}

func (c *Checker) ping(ctx context.Context, comp component) ComponentReport {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := comp.pinger.Ping(ctx)
	r := ComponentReport{
		Role:    comp.role,
		Backend: comp.backend,
		Status:  StatusHealthy,
		Latency: time.Since(start),
	}
	switch {
	case err != nil:
		r.Status = StatusUnhealthy
		r.ErrorKind = string(store.KindOf(err))
		r.Error = err.Error()
		c.logger.Warn("Storage component unreachable",
			zap.String("role", comp.role),
			zap.String("backend", comp.backend),
			zap.Error(err),
		)
	case r.Latency > c.opts.LatencyThreshold:
		r.Status = StatusDegraded
	}
	return r
}

// overall is unhealthy when the record store or every blob backend is down,
// degraded when anything else is off or a write fell back recently.
func (c *Checker) overall(results []ComponentReport) Status {
	status := StatusHealthy
	blobsUp := 0
	for _, r := range results {
		if r.Role == RoleRecords {
			if r.Status == StatusUnhealthy {
				return StatusUnhealthy
			}
		} else if r.Status != StatusUnhealthy {
			blobsUp++
		}
		if r.Status != StatusHealthy {
			status = StatusDegraded
		}
	}
	if blobsUp == 0 {
		return StatusUnhealthy
	}
	if c.fallback != nil && c.fallback.Degraded(c.opts.DegradedWindow) {
		status = StatusDegraded
	}
	return status
}

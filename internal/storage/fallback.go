package storage

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/store"
	"github.com/JakeFAU/site-tracker/internal/telemetry"
)

// Fallback writes to a primary backend and, when the primary is unreachable
// or rejects credentials, to a secondary one. Reads, deletes and presigning
// go to whichever backend the location names.
type Fallback struct {
	primary   BlobStore
	secondary BlobStore
	logger    *zap.Logger
	now       func() time.Time
	// lastFallback holds the unix nanos of the last redirected write.
	lastFallback atomic.Int64
}

// NewFallback composes primary and secondary. Their backend tags must differ.
func NewFallback(primary, secondary BlobStore, logger *zap.Logger) (*Fallback, error) {
	if primary == nil || secondary == nil {
		return nil, errors.New("primary and secondary blob stores are required")
	}
	if primary.Backend() == secondary.Backend() {
		return nil, errors.New("primary and secondary blob stores must use different backends")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    logger.Named("blob_fallback"),
		now:       time.Now,
	}, nil
}

// Backend reports the primary's tag.
func (f *Fallback) Backend() string {
	return f.primary.Backend()
}

// Backends returns the composed stores, primary first.
func (f *Fallback) Backends() []BlobStore {
	return []BlobStore{f.primary, f.secondary}
}

// Put writes to the primary. Connectivity and auth failures are retried
// exactly once on the secondary; every other error is returned as is.
func (f *Fallback) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (_ Location, retErr error) {
	ctx, span := telemetry.Start(ctx, "blob.fallback_put", telemetry.Blob(f.primary.Backend(), logicalPath)...)
	defer func() { telemetry.End(span, retErr) }()

	loc, err := f.primary.Put(ctx, logicalPath, data, contentType)
	if err == nil {
		return loc, nil
	}
	switch store.KindOf(err) {
	case store.KindConnectivity, store.KindAuth:
	default:
		return Location{}, err
	}
	if ctx.Err() != nil {
		return Location{}, err
	}

	f.logger.Warn("Primary blob backend failed, writing to secondary",
		zap.String("primary", f.primary.Backend()),
		zap.String("secondary", f.secondary.Backend()),
		zap.String("path", logicalPath),
		zap.Error(err),
	)
	metrics.ObserveFallback(f.primary.Backend(), f.secondary.Backend(), err)
	span.AddEvent("fallback", trace.WithAttributes(
		attribute.String("blob.secondary", f.secondary.Backend()),
		attribute.String("error.kind", string(store.KindOf(err))),
	))
	f.lastFallback.Store(f.now().UnixNano())

	loc, secErr := f.secondary.Put(ctx, logicalPath, data, contentType)
	if secErr != nil {
		return Location{}, errors.Join(secErr, err)
	}
	return loc, nil
}

func (f *Fallback) route(op string, loc Location) (BlobStore, error) {
	switch loc.Backend {
	case f.primary.Backend():
		return f.primary, nil
	case f.secondary.Backend():
		return f.secondary, nil
	}
	return nil, store.Errorf(store.KindValidation, op, f.primary.Backend(), "no backend for location %s", loc)
}

// Get reads from the backend named by loc.
func (f *Fallback) Get(ctx context.Context, loc Location) ([]byte, error) {
	b, err := f.route("blob get", loc)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, loc)
}

// Delete removes loc from the backend that holds it.
func (f *Fallback) Delete(ctx context.Context, loc Location) error {
	b, err := f.route("blob delete", loc)
	if err != nil {
		return err
	}
	return b.Delete(ctx, loc)
}

// Exists asks the backend named by loc. The other backend is not consulted.
func (f *Fallback) Exists(ctx context.Context, loc Location) (bool, error) {
	b, err := f.route("blob exists", loc)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, loc)
}

// Presign asks the backend that holds loc for a read URL.
func (f *Fallback) Presign(ctx context.Context, loc Location, ttl time.Duration) (string, error) {
	b, err := f.route("blob presign", loc)
	if err != nil {
		return "", err
	}
	return b.Presign(ctx, loc, ttl)
}

// List enumerates the primary then the secondary.
func (f *Fallback) List(ctx context.Context, prefix string) iter.Seq2[Location, error] {
	return func(yield func(Location, error) bool) {
		for _, b := range f.Backends() {
			for loc, err := range b.List(ctx, prefix) {
				if !yield(loc, err) {
					return
				}
			}
		}
	}
}

// Ping checks the primary. The secondary is checked separately by health reporting.
func (f *Fallback) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

// LastFallback returns when a write last went to the secondary, or the zero time.
func (f *Fallback) LastFallback() time.Time {
	n := f.lastFallback.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Degraded reports whether a write fell back within window.
func (f *Fallback) Degraded(window time.Duration) bool {
	last := f.LastFallback()
	return !last.IsZero() && f.now().Sub(last) <= window
}

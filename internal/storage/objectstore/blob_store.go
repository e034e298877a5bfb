// Package objectstore implements the object-storage blob store on top of a
// provider Client (S3, GCS or in-memory).
package objectstore

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/telemetry"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Client is the provider-specific object API. Implementations classify their
// errors with the store error kinds and report a missing object as
// store.ErrNotFound and an existing key on a create-only put as store.ErrConflict.
type Client interface {
	// Tag is the backend tag recorded in locations.
	Tag() string
	// PutObject creates key. It must fail if key already exists.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	HeadObject(ctx context.Context, key string) error
	DeleteObject(ctx context.Context, key string) error
	// ListObjects yields keys starting with prefix, paging transparently.
	ListObjects(ctx context.Context, prefix string) iter.Seq2[string, error]
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Ping checks the bucket is reachable with the configured credentials.
	Ping(ctx context.Context) error
}

// Config controls key layout and presign defaults.
type Config struct {
	// KeyPrefix is prepended to every logical path, e.g. "prod".
	KeyPrefix string
	// PresignTTL is used when Presign is called with a zero ttl.
	PresignTTL time.Duration
}

// BlobStore stores artifacts as objects in a single bucket.
type BlobStore struct {
	client     Client
	prefix     string
	presignTTL time.Duration
	logger     *zap.Logger
}

// DefaultPresignTTL is the read URL lifetime when none is configured.
const DefaultPresignTTL = time.Hour

// New creates an object-storage blob store.
func New(client Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("object storage client is required")
	}
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		if err := storage.ValidatePath(prefix); err != nil {
			return nil, err
		}
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client:     client,
		prefix:     prefix,
		presignTTL: ttl,
		logger:     logger.Named("objectstore").With(zap.String("backend", client.Tag())),
	}, nil
}

// Backend returns the provider tag.
func (s *BlobStore) Backend() string {
	return s.client.Tag()
}

func (s *BlobStore) key(logicalPath string) string {
	if s.prefix == "" {
		return logicalPath
	}
	return s.prefix + "/" + logicalPath
}

func (s *BlobStore) logical(key string) (string, bool) {
	if s.prefix == "" {
		return key, true
	}
	return strings.CutPrefix(key, s.prefix+"/")
}

func (s *BlobStore) observe(op string, start time.Time, err error) {
	metrics.ObserveBlob(s.client.Tag(), op, start, err)
}

// Put creates the object for logicalPath.
func (s *BlobStore) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (loc storage.Location, err error) {
	ctx, span := telemetry.Start(ctx, "blob.put", telemetry.Blob(s.client.Tag(), logicalPath)...)
	defer func(start time.Time) {
		s.observe("put", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.ValidatePath(logicalPath); err != nil {
		return storage.Location{}, store.Invalid("blob put", s.client.Tag(), err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.client.PutObject(ctx, s.key(logicalPath), data, contentType); err != nil {
		return storage.Location{}, err
	}
	s.logger.Debug("Stored object", zap.String("path", logicalPath), zap.Int("bytes", len(data)))
	return storage.Location{Backend: s.client.Tag(), Path: logicalPath}, nil
}

// Get downloads the object at loc.
func (s *BlobStore) Get(ctx context.Context, loc storage.Location) (data []byte, err error) {
	ctx, span := telemetry.Start(ctx, "blob.get", telemetry.Blob(s.client.Tag(), loc.Path)...)
	defer func(start time.Time) {
		s.observe("get", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation("blob get", s.client.Tag(), loc); err != nil {
		return nil, err
	}
	return s.client.GetObject(ctx, s.key(loc.Path))
}

// Delete removes the object at loc. Object stores delete missing keys
// silently, so existence is checked first to report store.ErrNotFound.
func (s *BlobStore) Delete(ctx context.Context, loc storage.Location) (err error) {
	ctx, span := telemetry.Start(ctx, "blob.delete", telemetry.Blob(s.client.Tag(), loc.Path)...)
	defer func(start time.Time) {
		s.observe("delete", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation("blob delete", s.client.Tag(), loc); err != nil {
		return err
	}
	key := s.key(loc.Path)
	if err := s.client.HeadObject(ctx, key); err != nil {
		return err
	}
	return s.client.DeleteObject(ctx, key)
}

// Exists reports whether the object at loc exists.
func (s *BlobStore) Exists(ctx context.Context, loc storage.Location) (ok bool, err error) {
	ctx, span := telemetry.Start(ctx, "blob.exists", telemetry.Blob(s.client.Tag(), loc.Path)...)
	defer func(start time.Time) {
		s.observe("exists", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation("blob exists", s.client.Tag(), loc); err != nil {
		return false, err
	}
	if err := s.client.HeadObject(ctx, s.key(loc.Path)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List yields every object under prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) iter.Seq2[storage.Location, error] {
	return func(yield func(storage.Location, error) bool) {
		for key, err := range s.client.ListObjects(ctx, s.key(prefix)) {
			if err != nil {
				yield(storage.Location{}, err)
				return
			}
			logical, ok := s.logical(key)
			if !ok {
				continue
			}
			if !yield(storage.Location{Backend: s.client.Tag(), Path: logical}, nil) {
				return
			}
		}
	}
}

// Presign returns a read URL valid for ttl, or the configured default when ttl is zero.
func (s *BlobStore) Presign(ctx context.Context, loc storage.Location, ttl time.Duration) (url string, err error) {
	ctx, span := telemetry.Start(ctx, "blob.presign", telemetry.Blob(s.client.Tag(), loc.Path)...)
	defer func(start time.Time) {
		s.observe("presign", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation("blob presign", s.client.Tag(), loc); err != nil {
		return "", err
	}
	if ttl < 0 {
		return "", store.Errorf(store.KindValidation, "blob presign", s.client.Tag(), "ttl must not be negative")
	}
	if ttl == 0 {
		ttl = s.presignTTL
	}
	return s.client.PresignGet(ctx, s.key(loc.Path), ttl)
}

// Ping checks the bucket.
func (s *BlobStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.client.Ping(ctx)
}

// Package gcs adapts Google Cloud Storage to the object-storage blob store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	blob "github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// Client implements objectstore.Client for a single GCS bucket.
type Client struct {
	client *storage.Client
	bucket string
}

// New wraps an existing storage client.
func New(client *storage.Client, cfg Config) (*Client, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Client{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Tag returns the gcs backend tag.
func (c *Client) Tag() string {
	return blob.TagGCS
}

func (c *Client) object(key string) *storage.ObjectHandle {
	return c.client.Bucket(c.bucket).Object(key)
}

// PutObject uploads data under the DoesNotExist precondition.
func (c *Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	writer := c.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return classifyWrite("blob put", fmt.Errorf("write object %s: %w (close writer: %v)", key, err, closeErr))
		}
		return classifyWrite("blob put", fmt.Errorf("write object %s: %w", key, err))
	}
	if err := writer.Close(); err != nil {
		return classifyWrite("blob put", fmt.Errorf("close writer %s: %w", key, err))
	}
	return nil
}

// GetObject downloads key.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	reader, err := c.object(key).NewReader(ctx)
	if err != nil {
		return nil, classify("blob get", fmt.Errorf("open object %s: %w", key, err))
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, classify("blob get", fmt.Errorf("read object %s: %w", key, err))
	}
	return data, nil
}

// HeadObject checks that key exists.
func (c *Client) HeadObject(ctx context.Context, key string) error {
	if _, err := c.object(key).Attrs(ctx); err != nil {
		return classify("blob head", fmt.Errorf("object attrs %s: %w", key, err))
	}
	return nil
}

// DeleteObject removes key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.object(key).Delete(ctx); err != nil {
		return classify("blob delete", fmt.Errorf("delete object %s: %w", key, err))
	}
	return nil
}

// ListObjects yields every object name under prefix.
func (c *Client) ListObjects(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", classify("blob list", fmt.Errorf("list objects %s: %w", prefix, err)))
				return
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}

// PresignGet returns a V4 signed GET URL. Signing needs service account
// credentials; without them the call fails with an auth error.
func (c *Client) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := c.client.Bucket(c.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", store.E(store.KindAuth, "blob presign", blob.TagGCS, fmt.Errorf("sign url %s: %w", key, err))
	}
	return url, nil
}

// Ping reads the bucket attributes.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Bucket(c.bucket).Attrs(ctx); err != nil {
		return classify("blob ping", fmt.Errorf("bucket attrs %s: %w", c.bucket, err))
	}
	return nil
}

// classifyWrite treats a 404 on a write as a missing bucket, which the
// fallback can route around.
func classifyWrite(op string, err error) error {
	classified := classify(op, err)
	if store.KindOf(classified) == store.KindNotFound {
		return store.E(store.KindConnectivity, op, blob.TagGCS, err)
	}
	return classified
}

func classify(op string, err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return store.E(store.KindConnectivity, op, blob.TagGCS, err)
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return store.E(store.KindNotFound, op, blob.TagGCS, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.Code; {
		case code == http.StatusNotFound:
			return store.E(store.KindNotFound, op, blob.TagGCS, err)
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return store.E(store.KindAuth, op, blob.TagGCS, err)
		case code == http.StatusPreconditionFailed, code == http.StatusConflict:
			return store.E(store.KindConflict, op, blob.TagGCS, err)
		case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
			return store.E(store.KindCapacity, op, blob.TagGCS, err)
		case code >= 400 && code < 500:
			return store.E(store.KindValidation, op, blob.TagGCS, err)
		}
	}
	return store.E(store.KindConnectivity, op, blob.TagGCS, err)
}

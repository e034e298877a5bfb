// Package memory provides an in-memory object storage client for development
// and tests, with failure injection for exercising fallback paths.
package memory

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/store"
)

type object struct {
	data        []byte
	contentType string
}

// Client stores objects in a map. It implements objectstore.Client.
type Client struct {
	mu      sync.RWMutex
	tag     string
	objects map[string]object

	failMu sync.Mutex
	fail   map[string]error
	// grace counts the calls of an op that still succeed before fail applies.
	grace map[string]int
}

// NewClient creates an empty client reporting the memory backend tag.
func NewClient() *Client {
	return NewClientWithTag(storage.TagMemory)
}

// NewClientWithTag creates an empty client that reports tag, which lets tests
// stand in for a cloud provider.
func NewClientWithTag(tag string) *Client {
	return &Client{
		tag:     tag,
		objects: make(map[string]object),
		fail:    make(map[string]error),
		grace:   make(map[string]int),
	}
}

// Ops accepted by FailOn.
const (
	OpPut     = "put"
	OpGet     = "get"
	OpHead    = "head"
	OpDelete  = "delete"
	OpList    = "list"
	OpPresign = "presign"
	OpPing    = "ping"
	OpAll     = "*"
)

// FailOn makes every later call of op return err until cleared with a nil err.
func (c *Client) FailOn(op string, err error) {
	c.FailAfter(op, 0, err)
}

// FailAfter lets the next n calls of op succeed and fails every call after
// them with err. A nil err clears the failure.
func (c *Client) FailAfter(op string, n int, err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if err == nil {
		delete(c.fail, op)
		delete(c.grace, op)
		return
	}
	c.fail[op] = err
	c.grace[op] = n
}

func (c *Client) injected(op string) error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	for _, key := range []string{op, OpAll} {
		err, ok := c.fail[key]
		if !ok {
			continue
		}
		if c.grace[key] > 0 {
			c.grace[key]--
			continue
		}
		return err
	}
	return nil
}

// Tag returns the backend tag.
func (c *Client) Tag() string {
	return c.tag
}

// Len returns the number of stored objects.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// ContentType returns the content type stored with key.
func (c *Client) ContentType(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects[key].contentType
}

// PutObject stores a copy of data under a new key.
func (c *Client) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected(OpPut); err != nil {
		return err
	}
	if _, exists := c.objects[key]; exists {
		return store.Errorf(store.KindConflict, "blob put", c.tag, "%s already exists", key)
	}
	c.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// GetObject returns a copy of the stored bytes.
func (c *Client) GetObject(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.injected(OpGet); err != nil {
		return nil, err
	}
	obj, ok := c.objects[key]
	if !ok {
		return nil, store.Errorf(store.KindNotFound, "blob get", c.tag, "%s", key)
	}
	return append([]byte(nil), obj.data...), nil
}

// HeadObject reports whether key exists.
func (c *Client) HeadObject(_ context.Context, key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.injected(OpHead); err != nil {
		return err
	}
	if _, ok := c.objects[key]; !ok {
		return store.Errorf(store.KindNotFound, "blob head", c.tag, "%s", key)
	}
	return nil
}

// DeleteObject removes key. Missing keys are ignored like real object stores do.
func (c *Client) DeleteObject(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.injected(OpDelete); err != nil {
		return err
	}
	delete(c.objects, key)
	return nil
}

// ListObjects yields keys under prefix in lexical order from a snapshot of the key set.
func (c *Client) ListObjects(_ context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.mu.RLock()
		if err := c.injected(OpList); err != nil {
			c.mu.RUnlock()
			yield("", err)
			return
		}
		keys := make([]string, 0, len(c.objects))
		for k := range c.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		c.mu.RUnlock()
		sort.Strings(keys)
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// PresignGet returns a pseudo URL carrying the expiry.
func (c *Client) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.injected(OpPresign); err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).UTC().Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", url.PathEscape(c.tag), key, expires), nil
}

// Ping succeeds unless a failure is injected.
func (c *Client) Ping(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.injected(OpPing)
}

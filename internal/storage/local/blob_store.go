// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/JakeFAU/site-tracker/internal/metrics"
	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/telemetry"
	"github.com/JakeFAU/site-tracker/internal/store"
)

const tempPrefix = ".tmp-"

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// Root is the directory where blobs will be stored.
	Root string `mapstructure:"local_root" yaml:"local_root"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	root string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("root directory is required")
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.Root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create root directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root directory path is not a directory")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	s := &BlobStore{root: root}
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BlobStore) checkWritable() error {
	testFile := filepath.Join(s.root, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("root directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("failed to clean up test file: %w", err)
	}
	return nil
}

// Backend returns the local tag.
func (s *BlobStore) Backend() string {
	return storage.TagLocal
}

func (s *BlobStore) resolve(op, logicalPath string) (string, error) {
	if err := storage.ValidatePath(logicalPath); err != nil {
		return "", store.Invalid(op, storage.TagLocal, err)
	}
	fullPath := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(logicalPath)))
	// Verify the result stays within root to prevent path traversal.
	if !strings.HasPrefix(fullPath, s.root+string(filepath.Separator)) {
		return "", store.Errorf(store.KindValidation, op, storage.TagLocal, "path traversal detected")
	}
	return fullPath, nil
}

// Put writes data to a new file. The file appears atomically and an existing
// path is never overwritten.
func (s *BlobStore) Put(ctx context.Context, logicalPath string, data []byte, _ string) (loc storage.Location, err error) {
	const op = "blob put"
	_, span := telemetry.Start(ctx, "blob.put", telemetry.Blob(storage.TagLocal, logicalPath)...)
	defer func(start time.Time) {
		metrics.ObserveBlob(storage.TagLocal, "put", start, err)
		telemetry.End(span, err)
	}(time.Now())

	fullPath, err := s.resolve(op, logicalPath)
	if err != nil {
		return storage.Location{}, err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return storage.Location{}, classify(op, fmt.Errorf("create parent directories: %w", err))
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return storage.Location{}, classify(op, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return storage.Location{}, classify(op, fmt.Errorf("write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return storage.Location{}, classify(op, fmt.Errorf("close file: %w", err))
	}
	if err := os.Link(tmpName, fullPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.Location{}, store.Errorf(store.KindConflict, op, storage.TagLocal, "%s already exists", logicalPath)
		}
		return storage.Location{}, classify(op, fmt.Errorf("publish file: %w", err))
	}
	return storage.Location{Backend: storage.TagLocal, Path: logicalPath}, nil
}

// Get reads a stored file.
func (s *BlobStore) Get(ctx context.Context, loc storage.Location) (data []byte, err error) {
	const op = "blob get"
	_, span := telemetry.Start(ctx, "blob.get", telemetry.Blob(storage.TagLocal, loc.Path)...)
	defer func(start time.Time) {
		metrics.ObserveBlob(storage.TagLocal, "get", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation(op, storage.TagLocal, loc); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(op, loc.Path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to the root directory by resolve.
	data, err = os.ReadFile(fullPath)
	if err != nil {
		return nil, classify(op, err)
	}
	return data, nil
}

// Delete removes a stored file.
func (s *BlobStore) Delete(ctx context.Context, loc storage.Location) (err error) {
	const op = "blob delete"
	_, span := telemetry.Start(ctx, "blob.delete", telemetry.Blob(storage.TagLocal, loc.Path)...)
	defer func(start time.Time) {
		metrics.ObserveBlob(storage.TagLocal, "delete", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation(op, storage.TagLocal, loc); err != nil {
		return err
	}
	fullPath, err := s.resolve(op, loc.Path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return classify(op, err)
	}
	return nil
}

// Exists reports whether a regular file is stored at loc.
func (s *BlobStore) Exists(ctx context.Context, loc storage.Location) (ok bool, err error) {
	const op = "blob exists"
	_, span := telemetry.Start(ctx, "blob.exists", telemetry.Blob(storage.TagLocal, loc.Path)...)
	defer func(start time.Time) {
		metrics.ObserveBlob(storage.TagLocal, "exists", start, err)
		telemetry.End(span, err)
	}(time.Now())

	if err := storage.CheckLocation(op, storage.TagLocal, loc); err != nil {
		return false, err
	}
	fullPath, err := s.resolve(op, loc.Path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classify(op, err)
	}
	return info.Mode().IsRegular(), nil
}

// List walks the files whose logical path starts with prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) iter.Seq2[storage.Location, error] {
	return func(yield func(storage.Location, error) bool) {
		start := s.root
		if dir := path.Dir(prefix); strings.Contains(prefix, "/") && dir != "." {
			resolved, err := s.resolve("blob list", dir)
			if err != nil {
				yield(storage.Location{}, err)
				return
			}
			start = resolved
		}
		stop := errors.New("stop")
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			logical := filepath.ToSlash(rel)
			if !strings.HasPrefix(logical, prefix) {
				return nil
			}
			if !yield(storage.Location{Backend: storage.TagLocal, Path: logical}, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(storage.Location{}, classify("blob list", err))
		}
	}
}

// Presign is not available for local files.
func (s *BlobStore) Presign(context.Context, storage.Location, time.Duration) (string, error) {
	return "", store.Errorf(store.KindUnsupported, "blob presign", storage.TagLocal, "local files cannot be presigned")
}

// Ping checks the root directory is still writable.
func (s *BlobStore) Ping(context.Context) error {
	if err := s.checkWritable(); err != nil {
		return classify("blob ping", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return store.E(store.KindNotFound, op, storage.TagLocal, err)
	case errors.Is(err, fs.ErrPermission):
		return store.E(store.KindAuth, op, storage.TagLocal, err)
	case errors.Is(err, syscall.ENOSPC):
		return store.E(store.KindCapacity, op, storage.TagLocal, err)
	}
	return store.E(store.KindConnectivity, op, storage.TagLocal, err)
}

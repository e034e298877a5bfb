// Package storage defines the blob-store contract for scraped artifacts and
// the fallback wrapper that composes an object store with local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/JakeFAU/site-tracker/internal/store"
)

// Backend tags recorded in every Location.
const (
	TagLocal  = "local"
	TagS3     = "s3"
	TagGCS    = "gcs"
	TagMemory = "memory"
)

// BlobStore stores immutable artifacts under logical paths.
type BlobStore interface {
	// Backend returns the tag written into locations produced by Put.
	Backend() string
	// Put writes data once under logicalPath and returns where it landed.
	Put(ctx context.Context, logicalPath string, data []byte, contentType string) (Location, error)
	// Get reads the bytes at loc or returns store.ErrNotFound.
	Get(ctx context.Context, loc Location) ([]byte, error)
	// Delete removes loc. A missing object yields store.ErrNotFound.
	Delete(ctx context.Context, loc Location) error
	// Exists reports whether loc holds an object.
	Exists(ctx context.Context, loc Location) (bool, error)
	// List yields every location under prefix. It is restartable but not a snapshot.
	List(ctx context.Context, prefix string) iter.Seq2[Location, error]
	// Presign returns a time-limited read URL, or store.ErrUnsupported.
	Presign(ctx context.Context, loc Location, ttl time.Duration) (string, error)
	// Ping checks the backend is reachable and writable.
	Ping(ctx context.Context) error
}

// Location identifies an artifact on a specific backend.
type Location struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

// String renders "<backend>:<path>".
func (l Location) String() string {
	return l.Backend + ":" + l.Path
}

// ParseLocation parses the "<backend>:<path>" form produced by String.
func ParseLocation(s string) (Location, error) {
	backend, path, ok := strings.Cut(s, ":")
	if !ok || backend == "" {
		return Location{}, store.Errorf(store.KindValidation, "parse location", "", "location %q has no backend tag", s)
	}
	if err := ValidatePath(path); err != nil {
		return Location{}, store.Invalid("parse location", backend, err)
	}
	return Location{Backend: backend, Path: path}, nil
}

// ValidatePath checks that p is a relative, slash-separated path with no
// parent references.
func ValidatePath(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return fmt.Errorf("path is required")
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("path %q must be relative", p)
	case strings.ContainsAny(p, "\\\x00"):
		return fmt.Errorf("path %q contains forbidden characters", p)
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("path %q must name an object", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("path %q contains an empty or relative segment", p)
		}
	}
	return nil
}

// CheckLocation validates that loc belongs to the backend tagged backend.
func CheckLocation(op, backend string, loc Location) error {
	if loc.Backend != backend {
		return store.Errorf(store.KindValidation, op, backend, "location %s belongs to backend %q", loc, loc.Backend)
	}
	if err := ValidatePath(loc.Path); err != nil {
		return store.Invalid(op, backend, err)
	}
	return nil
}

// DeletePrefix removes every object listed under prefix and returns how many
// were deleted. Objects that vanish between listing and deletion are skipped.
// prefix must name a directory or path start; an empty prefix is rejected.
func DeletePrefix(ctx context.Context, bs BlobStore, prefix string) (int, error) {
	const op = "blob delete_prefix"
	if err := ValidatePath(strings.TrimSuffix(prefix, "/")); err != nil {
		return 0, store.Invalid(op, bs.Backend(), err)
	}
	var locs []Location
	for loc, err := range bs.List(ctx, prefix) {
		if err != nil {
			return 0, err
		}
		locs = append(locs, loc)
	}
	deleted := 0
	for _, loc := range locs {
		if err := bs.Delete(ctx, loc); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete %s: %w", loc, err)
		}
		deleted++
	}
	return deleted, nil
}

// ErrorSeq yields a single error.
func ErrorSeq(err error) iter.Seq2[Location, error] {
	return func(yield func(Location, error) bool) {
		yield(Location{}, err)
	}
}

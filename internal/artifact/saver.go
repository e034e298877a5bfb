// Package artifact stores the output of a site scrape as a bundle of blobs and
// points the owning project at it.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/storage"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// SuffixGenerator makes artifact directory names unique within one second.
type SuffixGenerator interface {
	Suffix(at time.Time) (string, error)
}

// Hasher digests file contents.
type Hasher interface {
	Hash(data []byte) (string, error)
	Verify(data []byte, digest string) (bool, error)
}

// ErrDigestMismatch is returned by Verify when stored content has changed.
var ErrDigestMismatch = errors.New("artifact digest mismatch")

// Result describes one saved scrape.
type Result struct {
	Dir       string             `json:"dir" yaml:"dir"`
	Locations []storage.Location `json:"locations" yaml:"locations"`
	// Digests maps each written location path to the hex SHA-256 of its content.
	Digests map[string]string `json:"digests" yaml:"digests"`
}

// Saver writes scrape bundles.
type Saver struct {
	blobs    storage.BlobStore
	records  store.RecordStore
	suffixes SuffixGenerator
	hasher   Hasher
	clock    store.Clock
	logger   *zap.Logger
}

// NewSaver builds a Saver. records may be nil when only Save is used.
func NewSaver(blobs storage.BlobStore, records store.RecordStore, suffixes SuffixGenerator, hasher Hasher, clock store.Clock, logger *zap.Logger) (*Saver, error) {
	if blobs == nil || suffixes == nil || hasher == nil || clock == nil {
		return nil, errors.New("blob store, suffix generator, hasher and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		blobs:    blobs,
		records:  records,
		suffixes: suffixes,
		hasher:   hasher,
		clock:    clock,
		logger:   logger.Named("artifact"),
	}, nil
}

// Save writes every file of scrape under a fresh directory for domain. On a
// partial failure the locations already written are returned with the error.
func (s *Saver) Save(ctx context.Context, domain string, scrape storage.Scrape) (Result, error) {
	files, err := scrape.Files()
	if err != nil {
		return Result{}, store.Invalid("artifact save", s.blobs.Backend(), err)
	}
	if len(files) == 0 {
		return Result{}, store.Errorf(store.KindValidation, "artifact save", s.blobs.Backend(), "scrape of %s is empty", domain)
	}
	now := s.clock.Now()
	suffix, err := s.suffixes.Suffix(now)
	if err != nil {
		return Result{}, fmt.Errorf("artifact suffix: %w", err)
	}
	dir := storage.ArtifactDir(domain, now, suffix)
	sums := make([]string, len(files))
	for i, f := range files {
		if sums[i], err = s.hasher.Hash(f.Data); err != nil {
			return Result{}, fmt.Errorf("digest %s: %w", f.Name, err)
		}
	}
	locs, err := storage.PutBundle(ctx, s.blobs, dir, files)
	// PutBundle writes in file order, so locs[i] holds files[i].
	res := Result{Dir: dir, Locations: locs, Digests: make(map[string]string, len(locs))}
	for i, loc := range locs {
		res.Digests[loc.Path] = sums[i]
	}
	if err != nil {
		s.logger.Warn("Scrape bundle partially written",
			zap.String("dir", dir),
			zap.Int("written", len(locs)),
			zap.Int("files", len(files)),
			zap.Error(err),
		)
		return res, err
	}
	s.logger.Info("Saved scrape bundle", zap.String("dir", dir), zap.Int("files", len(locs)))
	return res, nil
}

// SaveForProject saves scrape under the project's domain and records the
// bundle directory and crawl time on the project.
func (s *Saver) SaveForProject(ctx context.Context, projectID string, scrape storage.Scrape) (Result, error) {
	if s.records == nil {
		return Result{}, errors.New("record store is not configured")
	}
	project, err := store.GetAs[*model.Project](ctx, s.records, model.KindProject, projectID)
	if err != nil {
		return Result{}, err
	}
	res, err := s.Save(ctx, project.Domain, scrape)
	if err != nil {
		return res, err
	}
	backend, err := storage.BundleBackend(res.Locations)
	if err != nil {
		return res, fmt.Errorf("record scrape on project %s: %w", projectID, err)
	}
	dirLoc := storage.Location{Backend: backend, Path: res.Dir}
	_, err = s.records.UpdateFields(ctx, model.KindProject, projectID, model.Patch{
		"scraped_files": dirLoc.String(),
		"last_crawl_at": s.clock.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("record scrape on project %s: %w", projectID, err)
	}
	return res, nil
}

// Verify reads loc back and checks it against digest.
func (s *Saver) Verify(ctx context.Context, loc storage.Location, digest string) error {
	data, err := s.blobs.Get(ctx, loc)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(data, digest)
	if err != nil {
		return store.Invalid("artifact verify", loc.Backend, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, ErrDigestMismatch)
	}
	return nil
}

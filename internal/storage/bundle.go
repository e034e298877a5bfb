package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/site-tracker/internal/store"
)

// File is one named artifact inside a scrape bundle.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Scrape is the raw output of one site scrape, laid out as a bundle of
// files by Files.
type Scrape struct {
	HTML      string   `json:"html"`
	CSS       string   `json:"css"`
	JS        string   `json:"js"`
	Links     []string `json:"links"`
	Metadata  any      `json:"metadata"`
	SEOReport string   `json:"seo_report"`
}

// Files renders the scrape into its bundle files. Empty parts are skipped.
func (s Scrape) Files() ([]File, error) {
	var files []File
	add := func(name, contentType string, data []byte) {
		if len(data) > 0 {
			files = append(files, File{Name: name, ContentType: contentType, Data: data})
		}
	}
	add("index.html", "text/html; charset=utf-8", []byte(s.HTML))
	add("styles.css", "text/css; charset=utf-8", []byte(s.CSS))
	add("scripts.js", "application/javascript", []byte(s.JS))
	if len(s.Links) > 0 {
		add("links.txt", "text/plain; charset=utf-8", []byte(strings.Join(s.Links, "\n")+"\n"))
	}
	if s.Metadata != nil {
		meta, err := json.MarshalIndent(s.Metadata, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		add("metadata.json", "application/json", meta)
	}
	add("seo_report.txt", "text/plain; charset=utf-8", []byte(s.SEOReport))
	return files, nil
}

// PutBundle writes every file under dir. On the first failure it stops and
// returns the locations already written together with the error; those
// objects are left in place.
//
// A bundle lives on one backend. When bs composes several backends and the
// writes switch backend midway, the files that landed elsewhere are copied to
// the backend that took the fallback writes and removed from the other one.
func PutBundle(ctx context.Context, bs BlobStore, dir string, files []File) ([]Location, error) {
	if err := ValidatePath(dir); err != nil {
		return nil, fmt.Errorf("bundle dir: %w", err)
	}
	locs := make([]Location, 0, len(files))
	for _, f := range files {
		loc, err := bs.Put(ctx, Join(dir, f.Name), f.Data, f.ContentType)
		if err != nil {
			return locs, fmt.Errorf("put %s: %w", f.Name, err)
		}
		locs = append(locs, loc)
	}
	if err := pinBundle(ctx, bs, locs, files); err != nil {
		return locs, err
	}
	return locs, nil
}

// BundleBackend returns the backend shared by every location, or an error
// when the locations are spread over several backends.
func BundleBackend(locs []Location) (string, error) {
	if len(locs) == 0 {
		return "", nil
	}
	backend := locs[0].Backend
	for _, loc := range locs[1:] {
		if loc.Backend != backend {
			return "", store.Errorf(store.KindConflict, "bundle backend", backend, "bundle spans backends %q and %q", backend, loc.Backend)
		}
	}
	return backend, nil
}

// composite is a blob store built from several backends, primary first.
type composite interface {
	Backends() []BlobStore
}

// pinBundle moves files onto the backend that is not bs's own once the
// bundle spans several backends. locs[i] holds files[i] and is rewritten in
// place as files move. The old copies are deleted on a best-effort basis.
func pinBundle(ctx context.Context, bs BlobStore, locs []Location, files []File) error {
	if _, err := BundleBackend(locs); err == nil {
		return nil
	}
	target := ""
	for _, loc := range locs {
		if loc.Backend != bs.Backend() {
			target = loc.Backend
			break
		}
	}
	var dest BlobStore
	if c, ok := bs.(composite); ok {
		for _, b := range c.Backends() {
			if b.Backend() == target {
				dest = b
			}
		}
	}
	if dest == nil {
		_, err := BundleBackend(locs)
		return err
	}
	for i, loc := range locs {
		if loc.Backend == target {
			continue
		}
		moved, err := dest.Put(ctx, loc.Path, files[i].Data, files[i].ContentType)
		if err != nil {
			return fmt.Errorf("move %s to %s: %w", files[i].Name, target, err)
		}
		_ = bs.Delete(ctx, loc)
		locs[i] = moved
	}
	return nil
}

// Package ulid generates short, sortable suffixes for artifact directories.
package ulid

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces lower-case ULID strings.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// New creates a Generator backed by a monotonic crypto/rand entropy source.
func New() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Suffix returns a new lower-case ULID for the given time.
func (g *Generator) Suffix(at time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return strings.ToLower(id.String()), nil
}

// Package sha256 computes content digests for stored artifacts.
package sha256

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Hasher implements artifact.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether data hashes to digest.
func (h *Hasher) Verify(data []byte, digest string) (bool, error) {
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false, fmt.Errorf("decode digest: %w", err)
	}
	sum := sha256.Sum256(data)
	return subtle.ConstantTimeCompare(sum[:], want) == 1, nil
}

// Package sha256 computes image digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements cards.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Digest(data), nil
}

// Digest is the package-level form of Hash.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

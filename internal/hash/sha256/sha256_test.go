package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherIsDeterministic ensures repeated hashing yields the known digest.
func TestHasherIsDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	require.Equal(t, got, Digest([]byte("hello world")))
	require.NotEqual(t, got, Digest([]byte("hello world!")))
}

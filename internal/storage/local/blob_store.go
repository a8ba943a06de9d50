// Package local archives objects on the local filesystem.
package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where objects are written.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes objects below a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, errors.Wrap(mkErr, "create base directory")
		}
	case err != nil:
		return nil, errors.Wrap(err, "stat base directory")
	case !info.IsDir():
		return nil, errors.Newf("base directory %s is not a directory", cfg.BaseDir)
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, errors.Wrap(err, "base directory is not writable")
	}
	if err := os.Remove(probe); err != nil {
		return nil, errors.Wrap(err, "remove writable probe")
	}
	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes data to path below the base directory and returns a
// file:// URI. Paths escaping the base directory are rejected.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, path))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", errors.Newf("path %q escapes the base directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", errors.Wrap(err, "create parent directories")
	}
	// Content-addressed paths make rewrites idempotent.
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", errors.Wrap(err, "write object")
	}
	return "file://" + full, nil
}

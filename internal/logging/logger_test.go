package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger skips debug output.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

// TestBuildLevel covers explicit and invalid levels.
func TestBuildLevel(t *testing.T) {
	t.Parallel()

	logger, err := Build(Config{Level: "warn"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = Build(Config{Level: "chatty"})
	require.ErrorContains(t, err, "chatty")
}

// TestBuildOutputFile verifies logs go to the configured file.
func TestBuildOutputFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notepipe.log")
	logger, err := Build(Config{Output: []string{path}})
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
}

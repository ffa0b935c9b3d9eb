package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/config"
)

func TestNewManagerDefaults(t *testing.T) {
	mgr, err := NewManager(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	defer mgr.Close()

	require.NotNil(t, mgr.Logger())
	assert.True(t, mgr.Logger().Enabled(nil, slog.LevelInfo))
	assert.False(t, mgr.Logger().Enabled(nil, slog.LevelDebug))
}

func TestNewManagerDebugLevel(t *testing.T) {
	mgr, err := NewManager(config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	defer mgr.Close()

	assert.True(t, mgr.Logger().Enabled(nil, slog.LevelDebug))
}

func TestNewManagerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	mgr, err := NewManager(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)

	mgr.Logger().Info("started", slog.String("symbol", "SOLUSDT"))
	require.NoError(t, mgr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"symbol":"SOLUSDT"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestNewManagerFileOutputRequiresPath(t *testing.T) {
	_, err := NewManager(config.LoggingConfig{Level: "info", Format: "text", Output: "file"})
	assert.Error(t, err)
}

func TestComponentLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "component.log")

	mgr, err := NewManager(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)

	mgr.Component("ingest").Info("backfill complete")
	require.NoError(t, mgr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"ingest"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}

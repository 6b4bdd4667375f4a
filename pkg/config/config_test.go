package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "commesh", cfg.AppName)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stderr"}, cfg.Log.Outputs)
	assert.False(t, cfg.Async.Enable)
	assert.Equal(t, 1, cfg.Async.NumCliques)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Log.Level, cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_name: probe
log:
  level: debug
async:
  enable: true
  affinity: "2,3"
  num_cliques: 0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "probe", cfg.AppName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Async.Enable)
	assert.Equal(t, "2,3", cfg.Async.Affinity)
	// validate clamps non-positive clique counts.
	assert.Equal(t, 1, cfg.Async.NumCliques)
	// Unset keys keep their defaults.
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadInvalidLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log.level")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COMMESH_ASYNC_ENABLE", "true")
	t.Setenv("COMMESH_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Async.Enable)
	assert.Equal(t, "warn", cfg.Log.Level)
}

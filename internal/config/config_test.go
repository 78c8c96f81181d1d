package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/config"
)

func TestDefaultMatchesTunables(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, uint(10), cfg.Bits)
	assert.Equal(t, time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, float64(2), cfg.BackoffFactor)
	assert.Equal(t, int64(50), cfg.MaxConcurrentHandlers)
	assert.Equal(t, time.Second, cfg.StabilizeInterval)
	assert.Equal(t, time.Second, cfg.FixFingersInterval)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.HandlerDeadline)
	assert.Equal(t, "data_stores", cfg.DataStoreDir)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("m: 12\nmax_retries: 5\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint(12), cfg.Bits)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.ConnectionTimeout)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("m: [unterminated"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

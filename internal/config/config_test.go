package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: ":9090"
log_level: DEBUG
engine:
  max_iterations: 500
feeds:
  - name: night shift
    url: https://example.com/night.ics
  - id: day
    url: https://example.com/day.ics
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500, cfg.Engine.MaxIterations)
	assert.Equal(t, defaultCacheSize, cfg.Engine.CacheSize)
	assert.Equal(t, defaultRefresh, cfg.RefreshCron)
	require.Len(t, cfg.Feeds, 2)
	assert.Equal(t, "night shift", cfg.Feeds[0].ID)
	assert.Equal(t, "day", cfg.Feeds[1].ID)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = append(cfg.Feeds, FeedConfig{ID: "ward", URL: "https://example.com/ward.ics"})
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.Error(t, Save(path, nil))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PASSROSTER_LISTEN", ":7000")
	t.Setenv("PASSROSTER_LOG_LEVEL", "warn")
	t.Setenv("PASSROSTER_MAX_ITERATIONS", "42")
	t.Setenv("PASSROSTER_CACHE_SIZE", "-1")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 42, cfg.Engine.MaxIterations)
	assert.Equal(t, -1, cfg.Engine.CacheSize)

	t.Setenv("PASSROSTER_MAX_ITERATIONS", "many")
	assert.Error(t, DefaultConfig().ApplyEnv())
}

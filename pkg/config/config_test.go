package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Optimizer.FoldConstants)
	assert.True(t, cfg.Optimizer.PushDownFilters)
	assert.True(t, cfg.Optimizer.SelectEncodings)
	assert.Equal(t, 1024, cfg.Execution.BatchSize)
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trigofusion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  in_memory: true
execution:
  batch_size: 64
optimizer:
  pushdown_filters: false
log:
  level: debug
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.Equal(t, 64, cfg.Execution.BatchSize)
	assert.False(t, cfg.Optimizer.PushDownFilters)
	assert.True(t, cfg.Optimizer.FoldConstants)
	assert.Equal(t, "text", cfg.Log.Format)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution: [1, 2"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRIGOFUSION_DATA_DIR", "/var/lib/trigofusion")
	t.Setenv("TRIGOFUSION_BATCH_SIZE", "256")
	t.Setenv("TRIGOFUSION_CONCURRENCY", "not-a-number")
	t.Setenv("TRIGOFUSION_SELECT_ENCODINGS", "off")
	t.Setenv("TRIGOFUSION_LOG_FORMAT", "json")

	cfg := LoadFromEnv()
	assert.Equal(t, "/var/lib/trigofusion", cfg.Storage.Path)
	assert.Equal(t, 256, cfg.Execution.BatchSize)
	assert.Equal(t, DefaultConfig().Execution.Concurrency, cfg.Execution.Concurrency)
	assert.False(t, cfg.Optimizer.SelectEncodings)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.Execution.BatchSize = 0 }},
		{"negative concurrency", func(c *Config) { c.Execution.Concurrency = -1 }},
		{"unknown level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
		{"no path", func(c *Config) { c.Storage.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{InMemory: true}
	assert.NoError(t, cfg.Validate())
}

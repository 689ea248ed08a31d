// Package config holds the engine and CLI configuration.
//
// Configuration can be loaded from a YAML file, from environment variables
// or from programmatic defaults. Environment variables override the file:
//
//	TRIGOFUSION_DATA_DIR          - Badger data directory (default: ./data)
//	TRIGOFUSION_IN_MEMORY         - Keep the store in memory (default: false)
//	TRIGOFUSION_BATCH_SIZE        - Rows per batch (default: 1024)
//	TRIGOFUSION_CONCURRENCY       - Concurrent streams per operator (default: NumCPU)
//	TRIGOFUSION_LOG_LEVEL         - debug, info, warn or error (default: info)
//	TRIGOFUSION_LOG_FORMAT        - text or json (default: text)
//	TRIGOFUSION_FOLD_CONSTANTS    - Enable constant folding (default: true)
//	TRIGOFUSION_PUSHDOWN_FILTERS  - Enable filter pushdown (default: true)
//	TRIGOFUSION_SELECT_ENCODINGS  - Enable encoding selection (default: true)
package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TRIGOFUSION_"

// Config is the complete configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Execution ExecutionConfig `yaml:"execution"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig selects where quads are kept.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// ExecutionConfig tunes plan execution.
type ExecutionConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
}

// OptimizerConfig toggles the rewrite passes.
type OptimizerConfig struct {
	FoldConstants   bool `yaml:"fold_constants"`
	PushDownFilters bool `yaml:"pushdown_filters"`
	SelectEncodings bool `yaml:"select_encodings"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with every rewrite pass enabled.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Path: "./data"},
		Execution: ExecutionConfig{
			BatchSize:   1024,
			Concurrency: runtime.NumCPU(),
		},
		Optimizer: OptimizerConfig{
			FoldConstants:   true,
			PushDownFilters: true,
			SelectEncodings: true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file. Keys missing from the file keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults overridden by the environment.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from TRIGOFUSION_* variables. Unparsable
// values are ignored.
func (c *Config) ApplyEnv() {
	if v := getenv("DATA_DIR"); v != "" {
		c.Storage.Path = v
	}
	c.Storage.InMemory = envBool("IN_MEMORY", c.Storage.InMemory)
	c.Execution.BatchSize = envInt("BATCH_SIZE", c.Execution.BatchSize)
	c.Execution.Concurrency = envInt("CONCURRENCY", c.Execution.Concurrency)
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	c.Optimizer.FoldConstants = envBool("FOLD_CONSTANTS", c.Optimizer.FoldConstants)
	c.Optimizer.PushDownFilters = envBool("PUSHDOWN_FILTERS", c.Optimizer.PushDownFilters)
	c.Optimizer.SelectEncodings = envBool("SELECT_ENCODINGS", c.Optimizer.SelectEncodings)
}

// Validate checks the configuration for values the engine cannot use.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return errors.New("storage path is required unless in_memory is set")
	}
	if c.Execution.BatchSize <= 0 {
		return errors.Newf("batch_size must be positive, got %d", c.Execution.BatchSize)
	}
	if c.Execution.Concurrency <= 0 {
		return errors.Newf("concurrency must be positive, got %d", c.Execution.Concurrency)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Newf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, errors.Newf("unknown log level %q", l.Level)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string, def int) int {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envBool parses a boolean from the environment with a default value.
func envBool(key string, def bool) bool {
	switch strings.ToLower(getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"passroster/internal/recurrence"
)

const (
	defaultListen    = "127.0.0.1:8080"
	defaultLogLevel  = "info"
	defaultRefresh   = "*/15 * * * *"
	defaultCacheDir  = "./var/ics-cache"
	defaultCacheSize = 1000
)

// FeedConfig describes a single ICS subscription source.
type FeedConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// EngineConfig tunes recurrence expansion.
type EngineConfig struct {
	// MaxIterations caps candidates examined per expansion.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// CacheSize is the number of expansion results kept in memory.
	// Negative disables the cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Engine EngineConfig `yaml:"engine" json:"engine"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic feed refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds the on-disk copy of fetched feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Engine: EngineConfig{
			MaxIterations: recurrence.DefaultMaxIterations,
			CacheSize:     defaultCacheSize,
		},
		RefreshCron: defaultRefresh,
		CacheDir:    defaultCacheDir,
		Feeds:       []FeedConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Engine.MaxIterations <= 0 {
		c.Engine.MaxIterations = recurrence.DefaultMaxIterations
	}
	if c.Engine.CacheSize == 0 {
		c.Engine.CacheSize = defaultCacheSize
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			if c.Feeds[i].Name != "" {
				c.Feeds[i].ID = c.Feeds[i].Name
			} else {
				c.Feeds[i].ID = c.Feeds[i].URL
			}
		}
	}
}

// ApplyEnv overlays PASSROSTER_* environment variables on c.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PASSROSTER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PASSROSTER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PASSROSTER_REFRESH"); v != "" {
		c.RefreshCron = v
	}
	if v := os.Getenv("PASSROSTER_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("PASSROSTER_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PASSROSTER_MAX_ITERATIONS: %w", err)
		}
		c.Engine.MaxIterations = n
	}
	if v := os.Getenv("PASSROSTER_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PASSROSTER_CACHE_SIZE: %w", err)
		}
		c.Engine.CacheSize = n
	}
	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshaled into Config and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, creating
// the parent directory (0700) and leaving the file at 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".passroster-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

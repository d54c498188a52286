// Package config manages blocklog configuration and the .blocklog directory.
// It handles loading, saving, and initializing the configuration, and applies
// BLOCKLOG_* environment overrides on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	Dir          = ".blocklog"
	ConfigFile   = "config"
	DatabaseFile = "blocklog.db"
	WorldFile    = "world.db"
)

// Duration is a time.Duration written as text ("90s", "5m") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the blocklog configuration
type Config struct {
	DefaultWorld string `toml:"default_world"`
	Database     string `toml:"database"`   // relative paths resolve inside .blocklog
	WorldFile    string `toml:"world_file"` // bbolt world used by the CLI

	// CommitInterval is how often the batch transaction commits; 0 commits every write
	CommitInterval  Duration `toml:"commit_interval"`
	LoadConcurrency int      `toml:"load_concurrency"`
	PageSize        int      `toml:"page_size"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	RedisAddr string `toml:"redis_addr"` // empty disables the actor name cache
	Listen    string `toml:"listen"`
	// APIToken, when set, is required as a bearer token by the admin API
	APIToken string `toml:"api_token"`

	path string // path to .blocklog directory
}

// DefaultConfig returns the configuration written by Initialize.
func DefaultConfig() *Config {
	return &Config{
		DefaultWorld:    "world",
		Database:        DatabaseFile,
		WorldFile:       WorldFile,
		CommitInterval:  Duration{2 * time.Minute},
		LoadConcurrency: 4,
		PageSize:        10,
		LogLevel:        "info",
		LogFormat:       "text",
		Listen:          "127.0.0.1:8740",
	}
}

// FindRoot finds the .blocklog directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a blocklog directory (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the nearest .blocklog directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration stored in the given .blocklog directory.
// Unset fields keep their defaults.
func LoadFrom(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.path = root
	return cfg, nil
}

// applyEnv overrides fields from BLOCKLOG_* variables.
func (c *Config) applyEnv() error {
	c.DefaultWorld = envOrDefault("BLOCKLOG_DEFAULT_WORLD", c.DefaultWorld)
	c.Database = envOrDefault("BLOCKLOG_DATABASE", c.Database)
	c.WorldFile = envOrDefault("BLOCKLOG_WORLD_FILE", c.WorldFile)
	c.LogLevel = envOrDefault("BLOCKLOG_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("BLOCKLOG_LOG_FORMAT", c.LogFormat)
	c.RedisAddr = envOrDefault("BLOCKLOG_REDIS_ADDR", c.RedisAddr)
	c.Listen = envOrDefault("BLOCKLOG_LISTEN", c.Listen)
	c.APIToken = envOrDefault("BLOCKLOG_API_TOKEN", c.APIToken)

	if v := os.Getenv("BLOCKLOG_COMMIT_INTERVAL"); v != "" {
		if err := c.CommitInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("BLOCKLOG_COMMIT_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("BLOCKLOG_LOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BLOCKLOG_LOAD_CONCURRENCY: %w", err)
		}
		c.LoadConcurrency = n
	}
	return nil
}

// Validate rejects settings the rest of the program cannot use.
func (c *Config) Validate() error {
	if c.CommitInterval.Duration < 0 {
		return fmt.Errorf("commit_interval must not be negative")
	}
	if c.LoadConcurrency <= 0 {
		return fmt.Errorf("load_concurrency must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Path returns the path to the .blocklog directory
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the SQLite log database
func (c *Config) DatabasePath() string {
	return c.resolve(c.Database)
}

// WorldPath returns the path to the bbolt world file
func (c *Config) WorldPath() string {
	return c.resolve(c.WorldFile)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.path, p)
}

// Initialize creates a new .blocklog directory in the current directory
func Initialize(defaultWorld string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(cwd, Dir)

	// Check if already initialized
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("blocklog directory already exists")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .blocklog directory: %w", err)
	}

	cfg := DefaultConfig()
	if defaultWorld != "" {
		cfg.DefaultWorld = defaultWorld
	}
	cfg.path = path

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(path)
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

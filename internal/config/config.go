// Package config provides workspace configuration for gg.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the repository directory.
const FileName = "config.yaml"

// Config holds workspace configuration.
type Config struct {
	User     UserConfig     `yaml:"user"`
	Log      LogConfig      `yaml:"log"`
	Revsets  RevsetConfig   `yaml:"revsets"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Watch    WatchConfig    `yaml:"watch"`
}

// UserConfig is the identity stamped on new revisions.
type UserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type LogConfig struct {
	// DefaultQuery is the revset shown when no query is given.
	DefaultQuery string `yaml:"default_query"`
	// Limit caps the rows returned per log page.
	Limit int `yaml:"limit"`
}

type RevsetConfig struct {
	// Immutable selects revisions mutations may not rewrite.
	Immutable string `yaml:"immutable"`
}

type CheckoutConfig struct {
	// AbandonEmpty abandons the old working copy on checkout when it is
	// empty and has no description.
	AbandonEmpty bool `yaml:"abandon_empty"`
}

type SnapshotConfig struct {
	// Ignore lists patterns ignored on top of .gitignore and .ggignore.
	Ignore []string `yaml:"ignore,omitempty"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	name := os.Getenv("USER")
	if name == "" {
		name = "gg"
	}
	return &Config{
		User:     UserConfig{Name: name},
		Log:      LogConfig{DefaultQuery: "all()", Limit: 100},
		Revsets:  RevsetConfig{Immutable: "root()"},
		Checkout: CheckoutConfig{AbandonEmpty: true},
		Watch:    WatchConfig{Debounce: 100 * time.Millisecond},
	}
}

// Load reads {dir}/config.yaml over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to {dir}/config.yaml.
func (c *Config) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := filepath.Join(dir, FileName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Log.Limit <= 0 {
		return fmt.Errorf("log.limit must be positive, got %d", c.Log.Limit)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}
	if c.Log.DefaultQuery == "" {
		c.Log.DefaultQuery = "all()"
	}
	if c.Revsets.Immutable == "" {
		c.Revsets.Immutable = "root()"
	}
	return nil
}

func (c *Config) applyEnv() {
	c.User.Name = getEnv("GG_AUTHOR_NAME", c.User.Name)
	c.User.Email = getEnv("GG_AUTHOR_EMAIL", c.User.Email)
	c.Log.Limit = getEnvInt("GG_LOG_LIMIT", c.Log.Limit)
	c.Watch.Debounce = getEnvDuration("GG_DEBOUNCE", c.Watch.Debounce)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Package dbconfig defines the on-disk configuration for an open reindeer
// database, decoded with gopkg.in/yaml.v3 the way the teacher configures
// its own services.
package dbconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level reindeer.yaml shape.
type Config struct {
	// Path is the bbolt file path.
	Path string `yaml:"path"`
	// ReadOnly opens the database without write access.
	ReadOnly bool `yaml:"read_only"`
	// OpenTimeout bounds how long to wait for the file lock.
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// FamilyCacheSize bounds the number of family descriptors kept hot in
	// the LRU cache.
	FamilyCacheSize int `yaml:"family_cache_size"`
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
	// Metrics configures the Prometheus registry.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures the zap logger every package shares.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Config with the defaults a freshly initialized
// database should use.
func Default(path string) Config {
	return Config{
		Path:            path,
		FamilyCacheSize: 128,
		OpenTimeout:     5 * time.Second,
		Log:             LogConfig{Level: "info"},
		Metrics:         MetricsConfig{Enabled: true, Namespace: "reindeer"},
	}
}

// Load reads and decodes a Config from a YAML file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dbconfig: read %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("dbconfig: parse %q: %w", path, err)
	}
	if cfg.FamilyCacheSize == 0 {
		cfg.FamilyCacheSize = 128
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("dbconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("dbconfig: write %q: %w", path, err)
	}
	return nil
}

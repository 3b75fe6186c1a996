// Package config defines the depflow application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvDBPath overrides the database path when set.
const EnvDBPath = "DEPFLOW_DB"

// Config is the top-level depflow configuration.
type Config struct {
	DBPath   string `json:"db_path" yaml:"db_path"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns a config with sensible defaults. DBPath is left
// empty so ResolveDBPath can fall through to the env var and the per-user
// default.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "warn",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveDBPath picks the database location: the --db flag wins, then the
// DEPFLOW_DB env var, then the config file, then ~/.depflow/depflow.db.
// The parent directory is created if needed.
func (c *Config) ResolveDBPath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		path = os.Getenv(EnvDBPath)
	}
	if path == "" {
		path = c.DBPath
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".depflow", "depflow.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create db directory: %w", err)
	}
	return path, nil
}

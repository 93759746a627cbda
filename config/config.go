// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Missing file means defaults; env always
// wins over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port                int `yaml:"port"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds"`
}

// ReadTimeout converts the configured seconds to a duration.
func (s ServerConfig) ReadTimeout() time.Duration { return time.Duration(s.ReadTimeoutSeconds) * time.Second }

// WriteTimeout converts the configured seconds to a duration.
func (s ServerConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutSeconds) * time.Second }

// IdleTimeout converts the configured seconds to a duration.
func (s ServerConfig) IdleTimeout() time.Duration { return time.Duration(s.IdleTimeoutSeconds) * time.Second }

type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite path; ":memory:" for ephemeral
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
			IdleTimeoutSeconds:  60,
		},
		Database: DatabaseConfig{Path: "stride.db"},
		JWT:      JWTConfig{Secret: "dev-secret", Issuer: "stride"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path (if non-empty and present) over defaults, then applies
// env overrides: STRIDE_PORT, STRIDE_DB_PATH, STRIDE_JWT_SECRET,
// STRIDE_JWT_ISSUER, STRIDE_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if v := os.Getenv("STRIDE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STRIDE_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STRIDE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STRIDE_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("STRIDE_JWT_ISSUER"); v != "" {
		cfg.JWT.Issuer = v
	}
	if v := os.Getenv("STRIDE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

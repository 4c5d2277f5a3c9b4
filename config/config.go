// Package config loads the process configuration for the typeflow
// backend: YAML file plus TYPEFLOW_* environment overrides on top of
// built-in defaults.
//
// Precedence: defaults → YAML file → environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig covers the operational HTTP surface (metrics/health).
type ServerConfig struct {
	MetricsPort     int           `yaml:"metrics_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// GatewayConfig tunes the generation gateway.
type GatewayConfig struct {
	// DefaultTimeout bounds provider attempts whose config sets no
	// timeout_ms.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// RatePerTenant is requests/second per tenant; 0 disables limiting.
	RatePerTenant float64 `yaml:"rate_per_tenant"`
	RateBurst     int     `yaml:"rate_burst"`
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "memory" or "redis".
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RedisConfig configures the Redis client used by the redis cache
// backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig configures the tenant settings store. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	// DSN is the sqlite path (or ":memory:").
	DSN string `yaml:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsPort:     9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gateway: GatewayConfig{
			DefaultTimeout: 30 * time.Second,
			RatePerTenant:  0,
			RateBurst:      0,
		},
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       "memory",
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Load reads path (optional) over the defaults and applies environment
// overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	return nil
}

// applyEnv overlays TYPEFLOW_* variables. Only operationally useful
// knobs get overrides; structural settings stay in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TYPEFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TYPEFLOW_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("TYPEFLOW_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("TYPEFLOW_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = ttl
		}
	}
	if v := os.Getenv("TYPEFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TYPEFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TYPEFLOW_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

// Package config loads SDispatch application configuration from defaults,
// a YAML file, a .env file and SDISPATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Logger    LoggerConfig    `yaml:"logger" env:"LOGGER"`
	Limits    LimitsConfig    `yaml:"limits" env:"LIMITS"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Dedup     DedupConfig     `yaml:"dedup" env:"DEDUP"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Tracing   TracingConfig   `yaml:"tracing" env:"TRACING"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Address           string        `yaml:"address" env:"ADDRESS"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBuffer     int64         `yaml:"max_body_buffer" env:"MAX_BODY_BUFFER"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`       // debug, info, warn, error
	Encoding    string `yaml:"encoding" env:"ENCODING"` // json or console
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// LimitsConfig holds the global request limits applied to every route.
type LimitsConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxBodySize int64         `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
	SlowRequest time.Duration `yaml:"slow_request" env:"SLOW_REQUEST"`
}

// RateLimitConfig configures the global rate limit.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Limit    int           `yaml:"limit" env:"LIMIT"`
	Window   time.Duration `yaml:"window" env:"WINDOW"`
	Strategy string        `yaml:"strategy" env:"STRATEGY"` // ip or apikey
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
	SkipPaths []string      `yaml:"skip_paths" env:"SKIP_PATHS"`
}

// DedupConfig configures idempotency-key deduplication.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Header  string        `yaml:"header" env:"HEADER"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig selects Redis as the shared store for cache and dedup.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Address  string `yaml:"address" env:"ADDRESS"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	Namespace    string  `yaml:"namespace" env:"NAMESPACE"`
	Path         string  `yaml:"path" env:"PATH"`
	SamplingRate float64 `yaml:"sampling_rate" env:"SAMPLING_RATE"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool     `yaml:"enabled" env:"ENABLED"`
	ServiceName string   `yaml:"service_name" env:"SERVICE_NAME"`
	SkipPaths   []string `yaml:"skip_paths" env:"SKIP_PATHS"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodyBuffer:     10 << 20,
		},
		Logger: LoggerConfig{
			Level:    "info",
			Encoding: "json",
		},
		Limits: LimitsConfig{
			Timeout:     30 * time.Second,
			MaxBodySize: 1 << 20,
			SlowRequest: time.Second,
		},
		RateLimit: RateLimitConfig{
			Limit:    100,
			Window:   time.Minute,
			Strategy: "ip",
		},
		Cache: CacheConfig{
			TTL:       60 * time.Second,
			SkipPaths: []string{"/health", "/metrics"},
		},
		Dedup: DedupConfig{
			Header: "Idempotency-Key",
			TTL:    5 * time.Minute,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "sdispatch:",
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			Namespace:    "sdispatch",
			Path:         "/metrics",
			SamplingRate: 1.0,
		},
		Tracing: TracingConfig{
			ServiceName: "sdispatch",
			SkipPaths:   []string{"/health", "/metrics"},
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Server.Address == "" {
		err = multierr.Append(err, errors.New("server.address is required"))
	}
	if c.Server.MaxBodyBuffer <= 0 {
		err = multierr.Append(err, errors.New("server.max_body_buffer must be positive"))
	}
	if c.Server.ShutdownTimeout < 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout must not be negative"))
	}
	if _, lerr := zap.ParseAtomicLevel(c.Logger.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("logger.level: %w", lerr))
	}
	if c.Logger.Encoding != "json" && c.Logger.Encoding != "console" {
		err = multierr.Append(err, fmt.Errorf("logger.encoding must be json or console, got %q", c.Logger.Encoding))
	}
	if c.Limits.Timeout < 0 {
		err = multierr.Append(err, errors.New("limits.timeout must not be negative"))
	}
	if c.Limits.MaxBodySize < 0 {
		err = multierr.Append(err, errors.New("limits.max_body_size must not be negative"))
	}
	if c.Limits.MaxBodySize > c.Server.MaxBodyBuffer {
		err = multierr.Append(err, errors.New("limits.max_body_size must not exceed server.max_body_buffer"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			err = multierr.Append(err, errors.New("rate_limit.limit must be positive"))
		}
		if c.RateLimit.Window <= 0 {
			err = multierr.Append(err, errors.New("rate_limit.window must be positive"))
		}
		if c.RateLimit.Strategy != "ip" && c.RateLimit.Strategy != "apikey" {
			err = multierr.Append(err, fmt.Errorf("rate_limit.strategy must be ip or apikey, got %q", c.RateLimit.Strategy))
		}
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		err = multierr.Append(err, errors.New("cache.ttl must be positive"))
	}
	if c.Dedup.Enabled && c.Dedup.TTL <= 0 {
		err = multierr.Append(err, errors.New("dedup.ttl must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		err = multierr.Append(err, errors.New("redis.address is required when redis is enabled"))
	}
	if c.Metrics.SamplingRate < 0 || c.Metrics.SamplingRate > 1 {
		err = multierr.Append(err, errors.New("metrics.sampling_rate must be between 0 and 1"))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		err = multierr.Append(err, errors.New("metrics.path must start with /"))
	}
	return err
}

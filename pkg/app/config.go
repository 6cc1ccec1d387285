package app

import (
	"context"
	"fmt"

	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/Suhaibinator/SDispatch/pkg/metrics"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/Suhaibinator/SDispatch/pkg/server"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"go.uber.org/zap"
)

// FromConfig translates a loaded configuration into an App Config.
// When Redis is enabled the store is connected here; the caller owns it and
// closes it through the returned Config's Store.
func FromConfig(ctx context.Context, c *config.Config, logger *zap.Logger) (Config, error) {
	cfg := Config{
		Logger:  logger,
		Address: c.Server.Address,
		Server: server.Config{
			MaxBodyBuffer:     c.Server.MaxBodyBuffer,
			ReadTimeout:       c.Server.ReadTimeout,
			ReadHeaderTimeout: c.Server.ReadHeaderTimeout,
			WriteTimeout:      c.Server.WriteTimeout,
			IdleTimeout:       c.Server.IdleTimeout,
			ShutdownTimeout:   c.Server.ShutdownTimeout,
		},
		GlobalTimeout:     c.Limits.Timeout,
		GlobalMaxBodySize: c.Limits.MaxBodySize,
		SlowRequest:       c.Limits.SlowRequest,
		IPConfig:          middleware.DefaultIPConfig(),
		EnableTraceID:     true,
		EnableMetrics:     c.Metrics.Enabled,
		MetricsPath:       c.Metrics.Path,
		EnableTracing:     c.Tracing.Enabled,
		Tracing: middleware.TracingConfig{
			ServiceName: c.Tracing.ServiceName,
			SkipPaths:   c.Tracing.SkipPaths,
		},
	}

	security := middleware.DefaultSecurityHeadersConfig()
	cfg.SecurityHeaders = &security
	compression := middleware.DefaultCompressionConfig()
	cfg.Compression = &compression

	if c.Metrics.Enabled {
		mc := metrics.DefaultConfig()
		mc.Namespace = c.Metrics.Namespace
		mc.SamplingRate = c.Metrics.SamplingRate
		cfg.Metrics = mc
	}

	if c.RateLimit.Enabled {
		strategy := middleware.StrategyIP
		if c.RateLimit.Strategy == "apikey" {
			strategy = middleware.StrategyAPIKey
		}
		cfg.GlobalRateLimit = &middleware.RateLimitConfig{
			BucketName: "global",
			Limit:      c.RateLimit.Limit,
			Window:     c.RateLimit.Window,
			Strategy:   strategy,
		}
	}

	if c.Cache.Enabled {
		cc := middleware.DefaultCacheConfig()
		cc.TTL = c.Cache.TTL
		cc.SkipPaths = c.Cache.SkipPaths
		cfg.Cache = &cc
	}
	if c.Dedup.Enabled {
		cfg.Dedup = &middleware.DedupConfig{HeaderName: c.Dedup.Header, TTL: c.Dedup.TTL}
	}

	if c.Redis.Enabled && (cfg.Cache != nil || cfg.Dedup != nil) {
		rc := store.DefaultRedisConfig()
		rc.Address = c.Redis.Address
		rc.Password = c.Redis.Password
		rc.DB = c.Redis.DB
		if c.Redis.Prefix != "" {
			rc.Prefix = c.Redis.Prefix
		}
		rc.Logger = logger
		rs, err := store.NewRedisStore(ctx, rc)
		if err != nil {
			return Config{}, fmt.Errorf("creating redis store: %w", err)
		}
		cfg.Store = rs
	}
	return cfg, nil
}

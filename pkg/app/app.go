// Package app is the registration surface of SDispatch. It collects routes,
// shared state and layers, assembles the global layer stack from a Config, and
// serves the result.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/metrics"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/Suhaibinator/SDispatch/pkg/router"
	"github.com/Suhaibinator/SDispatch/pkg/server"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config defines the global configuration of an App.
// Zero values disable the corresponding layer.
type Config struct {
	Logger  *zap.Logger   // Logger for all operations; nil uses zap.NewProduction
	Address string        // Listen address for Run
	Server  server.Config // Transport settings

	GlobalTimeout     time.Duration                // Response timeout for every route
	GlobalMaxBodySize int64                        // Maximum request body size in bytes
	GlobalRateLimit   *middleware.RateLimitConfig  // Rate limit for every route
	IPConfig          *middleware.IPConfig         // Client IP extraction
	SlowRequest       time.Duration                // Requests slower than this log at Warn
	EnableTraceID     bool                         // Assign and echo X-Request-Id
	SecurityHeaders   *middleware.SecurityHeadersConfig
	Compression       *middleware.CompressionConfig

	EnableMetrics bool
	Metrics       metrics.MetricsConfig
	Registry      *prometheus.Registry // nil creates a private registry
	MetricsPath   string               // Route serving the registry; empty disables it

	EnableTracing bool
	Tracing       middleware.TracingConfig

	// Store backs the cache and dedup layers. nil uses an in-memory store.
	Store store.Store
	Cache *middleware.CacheConfig
	Dedup *middleware.DedupConfig

	// Layers are applied to every route inside the built-in layers, in order.
	Layers []common.Layer
}

// App holds the route table and the layers around it.
type App struct {
	config    Config
	logger    *zap.Logger
	router    *router.Router
	layers    common.LayerStack
	collector *metrics.Collector
}

// New creates an App.
func New(config Config) *App {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}
	if config.Address == "" {
		config.Address = ":8080"
	}
	if config.Store == nil && (config.Cache != nil || config.Dedup != nil) {
		config.Store = store.NewMemoryStore()
	}
	return &App{
		config: config,
		logger: logger,
		router: router.NewRouter(logger),
		layers: common.NewLayerStack(config.Layers...),
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Router returns the underlying route table.
func (a *App) Router() *router.Router {
	return a.router
}

// Route registers the methods of m under pattern. Errors surface from Build.
func (a *App) Route(pattern string, m *router.MethodRouter) *App {
	a.router.Route(pattern, m)
	return a
}

// Nest mounts the routes of sub under prefix.
func (a *App) Nest(prefix string, sub *router.Router) *App {
	a.router.Nest(prefix, sub)
	return a
}

// State attaches a shared value readable with extract.State.
func (a *App) State(v any) *App {
	a.router.State(v)
	return a
}

// Layer appends layers that wrap every route, inside the built-in layers.
func (a *App) Layer(layers ...common.Layer) *App {
	a.layers.Push(layers...)
	return a
}

// Routes lists the registered routes.
func (a *App) Routes() []router.RouteInfo {
	return a.router.Routes()
}

// stack assembles the global layers, outermost first.
func (a *App) stack() (common.LayerStack, error) {
	c := a.config
	var s common.LayerStack

	s.Push(middleware.Recovery(a.logger))
	if c.EnableTraceID {
		s.Push(middleware.RequestID())
	}
	s.Push(middleware.ClientIPMiddleware(c.IPConfig))
	s.Push(middleware.Logging(a.logger, c.SlowRequest))

	if c.EnableTracing {
		s.Push(middleware.Tracing(c.Tracing))
	}
	if c.EnableMetrics {
		if a.collector == nil {
			reg := c.Registry
			if reg == nil {
				reg = prometheus.NewRegistry()
				a.config.Registry = reg
			}
			mc := c.Metrics
			if mc.Namespace == "" {
				mc = metrics.DefaultConfig()
			}
			collector, err := metrics.NewCollector(reg, mc)
			if err != nil {
				return nil, fmt.Errorf("creating metrics collector: %w", err)
			}
			a.collector = collector
		}
		s.Push(middleware.PrometheusMetrics(a.collector, nil))
	}
	if c.SecurityHeaders != nil {
		s.Push(middleware.SecurityHeaders(*c.SecurityHeaders))
	}
	if c.Compression != nil {
		s.Push(middleware.Compression(*c.Compression))
	}
	if c.GlobalMaxBodySize > 0 {
		s.Push(middleware.MaxBodySize(c.GlobalMaxBodySize))
	}
	if c.GlobalRateLimit != nil {
		s.Push(middleware.RateLimit(c.GlobalRateLimit, middleware.NewTokenBucketLimiter(0), a.logger))
	}
	if c.Dedup != nil {
		dc := *c.Dedup
		if dc.Store == nil {
			dc.Store = a.config.Store
		}
		s.Push(middleware.Dedup(dc, a.logger))
	}
	if c.Cache != nil {
		cc := *c.Cache
		if cc.Store == nil {
			cc.Store = a.config.Store
		}
		s.Push(middleware.Cache(cc, a.logger))
	}
	if c.GlobalTimeout > 0 {
		s.Push(middleware.Timeout(c.GlobalTimeout, a.logger))
	}
	return s.Append(a.layers...), nil
}

// Build validates the configuration and returns the entry continuation.
// Registration errors and unsatisfied state requirements are reported here.
func (a *App) Build() (common.Handler, error) {
	if a.config.EnableMetrics && a.config.MetricsPath != "" {
		// Registered once; Build may run more than once.
		if m := a.router.MatchRoute(a.config.MetricsPath, http.MethodGet); m.Kind != router.MatchFound {
			if a.config.Registry == nil {
				a.config.Registry = prometheus.NewRegistry()
			}
			a.router.Route(a.config.MetricsPath, router.Get(router.HTTPHandler(metrics.Handler(a.config.Registry))))
		}
	}
	if err := a.router.Build(); err != nil {
		return nil, fmt.Errorf("building routes: %w", err)
	}
	stack, err := a.stack()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Layer stack built", zap.Strings("layers", stack.Names()))
	return stack.Build(a.router.Handler()), nil
}

// Server builds the App and wraps it in a server.
func (a *App) Server() (*server.Server, error) {
	h, err := a.Build()
	if err != nil {
		return nil, err
	}
	return server.New(h, a.logger, a.config.Server), nil
}

// Run builds the App and serves on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}
	return srv.Run(ctx, a.config.Address)
}

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures the response cache layer.
type CacheConfig struct {
	// TTL is how long a response is served from cache. Defaults to 60 seconds.
	TTL time.Duration
	// Methods are the cacheable methods. Defaults to GET and HEAD.
	Methods []string
	// SkipPaths are path prefixes that are never cached. Defaults to "/health".
	SkipPaths []string
	// Store holds cached responses. Defaults to an in-memory store.
	Store store.Store
	// KeyPrefix namespaces keys in a shared store. Defaults to "cache:".
	KeyPrefix string
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:       60 * time.Second,
		Methods:   []string{http.MethodGet, http.MethodHead},
		SkipPaths: []string{"/health"},
		KeyPrefix: "cache:",
	}
}

type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

func (c *cachedResponse) response(xcache string) *common.Response {
	resp := &common.Response{Status: c.Status, Header: c.Header.Clone(), Body: c.Body}
	return resp.SetHeader("X-Cache", xcache)
}

// Cache creates a layer that serves successful responses from a store for TTL.
// The key is the method and the full request URI. Only 2xx responses are stored and
// responses are marked X-Cache: HIT or MISS. Concurrent misses for the same key run the
// inner chain once and share its response. Requests carrying Authorization or Upgrade
// bypass the cache.
func Cache(config CacheConfig, logger *zap.Logger) common.Layer {
	defaults := DefaultCacheConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if len(config.Methods) == 0 {
		config.Methods = defaults.Methods
	}
	if config.SkipPaths == nil {
		config.SkipPaths = defaults.SkipPaths
	}
	if config.Store == nil {
		config.Store = store.NewMemoryStore()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var group singleflight.Group

	return common.LayerFunc("cache", func(r *common.Request, next common.Handler) *common.Response {
		if !slices.Contains(config.Methods, r.Method) {
			return next(r)
		}
		// Upgrades and credentialed requests are never shared between clients.
		if r.Header.Get("Upgrade") != "" || r.Header.Get("Authorization") != "" {
			return next(r)
		}
		path := r.Path()
		for _, prefix := range config.SkipPaths {
			if strings.HasPrefix(path, prefix) {
				return next(r)
			}
		}

		key := config.KeyPrefix + r.Method + ":" + r.URL.RequestURI()
		ctx := r.Context()

		if raw, err := config.Store.Get(ctx, key); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached.response("HIT")
			}
			logger.Warn("Discarding unreadable cache entry", requestFields(r, zap.String("key", key))...)
		} else if !errors.Is(err, store.ErrNotFound) {
			logger.Error("Cache store failed", requestFields(r, zap.Error(err))...)
		}

		v, _, _ := group.Do(key, func() (any, error) {
			resp := next(r)
			cached := &cachedResponse{Status: resp.Status, Header: resp.Header, Body: resp.Body}
			if resp.Status < 200 || resp.Status >= 300 || resp.Upgrade != nil {
				return &uncacheable{resp: resp}, nil
			}
			if raw, err := json.Marshal(cached); err == nil {
				if err := config.Store.Set(ctx, key, raw, config.TTL); err != nil {
					logger.Error("Cache store failed", requestFields(r, zap.Error(err))...)
				}
			}
			return cached, nil
		})

		switch out := v.(type) {
		case *cachedResponse:
			return out.response("MISS")
		case *uncacheable:
			return out.copy()
		}
		return next(r)
	})
}

// uncacheable carries a response that is passed to the callers without being stored.
type uncacheable struct {
	resp *common.Response
}

// copy gives each waiting caller its own header map.
func (u *uncacheable) copy() *common.Response {
	c := *u.resp
	c.Header = u.resp.Header.Clone()
	return &c
}

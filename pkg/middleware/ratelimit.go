package middleware

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitStrategy selects how clients are told apart.
type RateLimitStrategy string

const (
	// StrategyIP keys buckets by client IP.
	StrategyIP RateLimitStrategy = "ip"
	// StrategyAPIKey keys buckets by the key accepted by the api key layer, falling back to IP.
	StrategyAPIKey RateLimitStrategy = "apikey"
	// StrategyCustom keys buckets with RateLimitConfig.KeyExtractor.
	StrategyCustom RateLimitStrategy = "custom"
)

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	// Unique identifier for this rate limit bucket
	// If multiple routes share the same BucketName, they share the same rate limit
	BucketName string

	// Maximum number of requests allowed in the time window
	Limit int

	// Time window for the rate limit (e.g., 1 minute, 1 hour)
	Window time.Duration

	// Strategy for identifying clients
	Strategy RateLimitStrategy

	// Custom key extractor function (used when Strategy is "custom")
	KeyExtractor func(*common.Request) (string, error)

	// Response to send when rate limit is exceeded
	// If nil, a default 429 rate_limit_exceeded response is sent
	ExceededHandler common.Handler
}

// RateLimiter defines the interface for rate limiting algorithms
type RateLimiter interface {
	// Allow checks if a request is allowed based on the key and rate limit config
	// Returns true if the request is allowed, false otherwise
	// Also returns the number of remaining requests and time until reset
	Allow(key string, limit int, window time.Duration) (bool, int, time.Duration)
}

// TokenBucketLimiter implements RateLimiter with one golang.org/x/time/rate token bucket
// per key. The bucket refills at limit/window and holds at most limit tokens.
// Idle buckets expire from the underlying TTLMap.
type TokenBucketLimiter struct {
	buckets *store.TTLMap[string, *rate.Limiter]
	now     func() time.Time
}

// NewTokenBucketLimiter creates a limiter whose idle buckets are forgotten after idleTTL.
func NewTokenBucketLimiter(idleTTL time.Duration, opts ...store.TTLOption) *TokenBucketLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &TokenBucketLimiter{
		buckets: store.NewTTLMap[string, *rate.Limiter](idleTTL, opts...),
		now:     time.Now,
	}
}

// Allow implements RateLimiter.
func (l *TokenBucketLimiter) Allow(key string, limit int, window time.Duration) (bool, int, time.Duration) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	every := rate.Every(window / time.Duration(limit))

	lim := l.buckets.GetOrCreate(key, func() *rate.Limiter {
		return rate.NewLimiter(every, limit)
	})
	l.buckets.Touch(key)

	now := l.now()
	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Time until one token is available again; for an allowed request, until the bucket is full.
	var reset time.Duration
	if allowed {
		reset = time.Duration((float64(limit) - tokens) / float64(every) * float64(time.Second))
	} else {
		reset = time.Duration((1 - tokens) / float64(every) * float64(time.Second))
	}
	if reset < 0 {
		reset = 0
	}
	return allowed, remaining, reset
}

// RateLimit creates a layer that enforces rate limits
func RateLimit(config *RateLimitConfig, limiter RateLimiter, logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("rate_limit", func(r *common.Request, next common.Handler) *common.Response {
		// Skip rate limiting if config is nil
		if config == nil {
			return next(r)
		}

		key, err := rateLimitKey(config, r)
		if err != nil {
			logger.Error("Failed to extract rate limit key", requestFields(r, zap.Error(err))...)
			return common.ErrorResponse(r, common.Internal("Internal Server Error").WithInternal(err))
		}

		bucketKey := config.BucketName + ":" + key
		allowed, remaining, reset := limiter.Allow(bucketKey, config.Limit, config.Window)

		setHeaders := func(resp *common.Response) *common.Response {
			resp.SetHeader("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			resp.SetHeader("X-RateLimit-Remaining", strconv.Itoa(remaining))
			resp.SetHeader("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))
			return resp
		}

		if !allowed {
			logger.Warn("Rate limit exceeded", requestFields(r,
				zap.String("key", key),
				zap.Int("limit", config.Limit),
				zap.Int("remaining", remaining),
			)...)

			var resp *common.Response
			if config.ExceededHandler != nil {
				resp = config.ExceededHandler(r)
			}
			if resp == nil {
				resp = common.ErrorResponse(r, common.TooManyRequests(
					fmt.Sprintf("Rate limit exceeded, retry in %d seconds", retryAfter(reset))))
			}
			resp.SetHeader("Retry-After", strconv.FormatInt(retryAfter(reset), 10))
			return setHeaders(resp)
		}

		return setHeaders(next(r))
	})
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(d time.Duration) int64 {
	return max(1, int64(math.Ceil(d.Seconds())))
}

func rateLimitKey(config *RateLimitConfig, r *common.Request) (string, error) {
	switch config.Strategy {
	case StrategyAPIKey:
		if key, ok := common.GetExtension[APIKey](r); ok {
			return "key:" + string(key), nil
		}
	case StrategyCustom:
		if config.KeyExtractor != nil {
			return config.KeyExtractor(r)
		}
	}
	return extractIP(r), nil
}

// extractIP returns the address resolved by the client ip layer, or the remote address
// when that layer is not installed.
func extractIP(r *common.Request) string {
	if ip := ClientIP(r); ip != "" {
		return ip
	}
	return cleanIP(r.RemoteAddr)
}

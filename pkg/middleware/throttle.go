package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrThrottled is returned by Wait when a request would have to queue longer than MaxWait.
var ErrThrottled = errors.New("throttled: wait exceeds limit")

// ThrottleConfig configures the throttle layer.
type ThrottleConfig struct {
	// Rate is the number of requests let through per second.
	Rate int

	// Slack is the number of requests that may be let through back to back after an idle period.
	// Zero uses the library default for unbounded pacing and a burst of one for bounded pacing.
	Slack int

	// PerClient gives every client IP its own pacing instead of one shared pacer.
	PerClient bool

	// MaxWait bounds how long a request may queue. A request that would wait longer is
	// rejected with 503 right away, without using up a slot. Zero means no bound.
	MaxWait time.Duration
}

// pacer is one pacing lane. Unbounded lanes use a go.uber.org/ratelimit leaky bucket;
// bounded lanes use a rate.Limiter so the wait is known before it starts.
type pacer struct {
	leaky  ratelimit.Limiter
	bucket *rate.Limiter
}

// UberRateLimiter paces requests instead of rejecting them, unlike RateLimit.
type UberRateLimiter struct {
	config ThrottleConfig
	shared *pacer
	pacers *store.TTLMap[string, *pacer]
}

// NewUberRateLimiter creates a pacer for the given config.
func NewUberRateLimiter(config ThrottleConfig) *UberRateLimiter {
	if config.Rate < 1 {
		config.Rate = 1
	}
	u := &UberRateLimiter{config: config}
	if config.PerClient {
		u.pacers = store.NewTTLMap[string, *pacer](10 * time.Minute)
	} else {
		u.shared = u.newPacer()
	}
	return u
}

func (u *UberRateLimiter) newPacer() *pacer {
	if u.config.MaxWait > 0 {
		return &pacer{bucket: rate.NewLimiter(rate.Limit(u.config.Rate), max(u.config.Slack, 1))}
	}
	if u.config.Slack > 0 {
		return &pacer{leaky: ratelimit.New(u.config.Rate, ratelimit.WithSlack(u.config.Slack))}
	}
	return &pacer{leaky: ratelimit.New(u.config.Rate)}
}

// getPacer gets or creates the pacer for key
func (u *UberRateLimiter) getPacer(key string) *pacer {
	if u.shared != nil {
		return u.shared
	}
	p := u.pacers.GetOrCreate(key, u.newPacer)
	u.pacers.Touch(key)
	return p
}

// Wait blocks until the request for key may proceed and returns how long it waited.
// With MaxWait set, a wait longer than MaxWait fails with ErrThrottled before blocking.
// A done ctx ends the wait early with ctx.Err().
func (u *UberRateLimiter) Wait(ctx context.Context, key string) (time.Duration, error) {
	p := u.getPacer(key)
	if p.bucket != nil {
		return u.reserve(ctx, p.bucket)
	}

	// Take cannot be cancelled; a request abandoned mid-wait still spends its slot.
	start := time.Now()
	done := make(chan struct{})
	go func() {
		p.leaky.Take()
		close(done)
	}()
	select {
	case <-done:
		return time.Since(start), nil
	case <-ctx.Done():
		return time.Since(start), ctx.Err()
	}
}

func (u *UberRateLimiter) reserve(ctx context.Context, bucket *rate.Limiter) (time.Duration, error) {
	now := time.Now()
	res := bucket.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if !res.OK() || delay > u.config.MaxWait {
		res.CancelAt(now)
		return 0, ErrThrottled
	}
	if delay == 0 {
		return 0, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return delay, nil
	case <-ctx.Done():
		res.Cancel()
		return time.Since(now), ctx.Err()
	}
}

// Throttle creates a layer that paces requests through limiter.
func Throttle(limiter *UberRateLimiter, logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("throttle", func(r *common.Request, next common.Handler) *common.Response {
		waited, err := limiter.Wait(r.Context(), extractIP(r))
		switch {
		case errors.Is(err, ErrThrottled):
			logger.Warn("Request throttled", requestFields(r, zap.Duration("max_wait", limiter.config.MaxWait))...)
			return common.ErrorResponse(r, common.ServiceUnavailable("Server is busy, try again later"))
		case err != nil:
			logger.Debug("Request cancelled while throttled", requestFields(r, zap.Duration("waited", waited))...)
			return common.ErrorResponse(r, common.ServiceUnavailable("Request cancelled").WithInternal(err))
		}
		return next(r)
	})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

func TestTokenBucketLimiter(t *testing.T) {
	limiter := NewTokenBucketLimiter(time.Minute)

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := limiter.Allow("k", 3, time.Minute)
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if remaining != 2-i {
			t.Errorf("Expected %d remaining, got %d", 2-i, remaining)
		}
	}

	allowed, remaining, reset := limiter.Allow("k", 3, time.Minute)
	if allowed {
		t.Error("Expected fourth request to be denied")
	}
	if remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", remaining)
	}
	if reset <= 0 || reset > 21*time.Second {
		t.Errorf("Expected reset within one refill interval, got %v", reset)
	}

	if allowed, _, _ := limiter.Allow("other", 3, time.Minute); !allowed {
		t.Error("Expected separate key to have its own bucket")
	}
}

func TestTokenBucketLimiterRefills(t *testing.T) {
	limiter := NewTokenBucketLimiter(time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("k", 1, time.Second)
	if allowed, _, _ := limiter.Allow("k", 1, time.Second); allowed {
		t.Fatal("Expected bucket to be empty")
	}

	now = now.Add(time.Second)
	if allowed, _, _ := limiter.Allow("k", 1, time.Second); !allowed {
		t.Error("Expected bucket to refill after the window")
	}
}

func TestRateLimit(t *testing.T) {
	config := &RateLimitConfig{
		BucketName: "test",
		Limit:      2,
		Window:     time.Minute,
		Strategy:   StrategyIP,
	}
	h := Chain(RateLimit(config, NewTokenBucketLimiter(time.Minute), nil)).Build(okHandler)

	for i := 0; i < 2; i++ {
		resp := h(newRequest(t, "GET", "/", nil))
		if resp.Status != http.StatusOK {
			t.Fatalf("Expected request %d to pass, got %d", i+1, resp.Status)
		}
		if got := resp.Header.Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("Expected X-RateLimit-Limit 2, got %q", got)
		}
		if got := resp.Header.Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("Expected X-RateLimit-Remaining %d, got %q", 1-i, got)
		}
	}

	resp := h(newRequest(t, "GET", "/", nil))
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("Expected status code %d, got %d", http.StatusTooManyRequests, resp.Status)
	}
	if got := errorType(t, resp); got != "rate_limit_exceeded" {
		t.Errorf("Expected error type rate_limit_exceeded, got %q", got)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Expected positive Retry-After, got %q", resp.Header.Get("Retry-After"))
	}

	other := newRequest(t, "GET", "/", nil)
	other.RemoteAddr = "192.0.2.99:1"
	if resp := h(other); resp.Status != http.StatusOK {
		t.Errorf("Expected a different client to pass, got %d", resp.Status)
	}
}

func TestRateLimitAPIKeyStrategy(t *testing.T) {
	config := &RateLimitConfig{BucketName: "keys", Limit: 1, Window: time.Minute, Strategy: StrategyAPIKey}
	h := Chain(
		NewAPIKeyMiddleware(map[string]bool{"a": true, "b": true}, "X-API-Key", "", nil),
		RateLimit(config, NewTokenBucketLimiter(time.Minute), nil),
	).Build(okHandler)

	send := func(key string) int {
		req := newRequest(t, "GET", "/", nil)
		req.Header.Set("X-API-Key", key)
		return h(req).Status
	}

	if got := send("a"); got != http.StatusOK {
		t.Errorf("Expected first request for a to pass, got %d", got)
	}
	if got := send("a"); got != http.StatusTooManyRequests {
		t.Errorf("Expected second request for a to be limited, got %d", got)
	}
	// Same IP, different key.
	if got := send("b"); got != http.StatusOK {
		t.Errorf("Expected request for b to pass, got %d", got)
	}
}

func TestRateLimitCustomStrategy(t *testing.T) {
	config := &RateLimitConfig{
		BucketName: "custom",
		Limit:      1,
		Window:     time.Minute,
		Strategy:   StrategyCustom,
		KeyExtractor: func(r *common.Request) (string, error) {
			tenant := r.Header.Get("X-Tenant")
			if tenant == "" {
				return "", errors.New("no tenant")
			}
			return tenant, nil
		},
		ExceededHandler: func(r *common.Request) *common.Response {
			return common.Text(http.StatusTooManyRequests, "slow down")
		},
	}
	h := Chain(RateLimit(config, NewTokenBucketLimiter(time.Minute), nil)).Build(okHandler)

	req := newRequest(t, "GET", "/", nil)
	req.Header.Set("X-Tenant", "acme")
	h(req)

	req = newRequest(t, "GET", "/", nil)
	req.Header.Set("X-Tenant", "acme")
	resp := h(req)
	if resp.Status != http.StatusTooManyRequests || string(resp.Body) != "slow down" {
		t.Errorf("Expected custom exceeded response, got %d %q", resp.Status, resp.Body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Expected Retry-After on custom exceeded response")
	}

	if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusInternalServerError {
		t.Errorf("Expected key extraction failure to yield 500, got %d", resp.Status)
	}
}

func TestRateLimitExceededHandlerReturnsNil(t *testing.T) {
	config := &RateLimitConfig{
		BucketName: "nil-handler",
		Limit:      1,
		Window:     time.Minute,
		Strategy:   StrategyIP,
		ExceededHandler: func(r *common.Request) *common.Response {
			return nil
		},
	}
	h := Chain(RateLimit(config, NewTokenBucketLimiter(time.Minute), nil)).Build(okHandler)

	h(newRequest(t, "GET", "/", nil))
	resp := h(newRequest(t, "GET", "/", nil))
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("Expected default 429, got %d", resp.Status)
	}
	if resp.Header.Get("Retry-After") == "" || resp.Header.Get("X-RateLimit-Limit") != "1" {
		t.Errorf("Expected rate limit headers on fallback response, got %v", resp.Header)
	}
}

func TestRateLimitNilConfig(t *testing.T) {
	h := Chain(RateLimit(nil, NewTokenBucketLimiter(time.Minute), nil)).Build(okHandler)
	if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusOK {
		t.Errorf("Expected pass-through, got %d", resp.Status)
	}
}

func TestThrottleMaxWait(t *testing.T) {
	limiter := NewUberRateLimiter(ThrottleConfig{Rate: 1, MaxWait: 10 * time.Millisecond})
	h := Chain(Throttle(limiter, nil)).Build(okHandler)

	if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", resp.Status)
	}

	// The second request would queue for a full second and is turned away without waiting.
	start := time.Now()
	resp := h(newRequest(t, "GET", "/", nil))
	elapsed := time.Since(start)
	if resp.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected second request to exceed MaxWait, got %d", resp.Status)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Expected rejection without queueing, took %v", elapsed)
	}
}

func TestThrottleWaitsWithinMaxWait(t *testing.T) {
	limiter := NewUberRateLimiter(ThrottleConfig{Rate: 20, MaxWait: time.Second})
	h := Chain(Throttle(limiter, nil)).Build(okHandler)

	h(newRequest(t, "GET", "/", nil))
	start := time.Now()
	if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusOK {
		t.Fatalf("Expected queued request to pass, got %d", resp.Status)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected request to be paced by about 50ms, took %v", elapsed)
	}
}

func TestThrottleRejectedRequestKeepsSlot(t *testing.T) {
	limiter := NewUberRateLimiter(ThrottleConfig{Rate: 10, MaxWait: 10 * time.Millisecond})
	h := Chain(Throttle(limiter, nil)).Build(okHandler)

	h(newRequest(t, "GET", "/", nil))
	for i := 0; i < 5; i++ {
		if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusServiceUnavailable {
			t.Fatalf("Expected rejection %d, got %d", i+1, resp.Status)
		}
	}

	// Rejections reserve nothing, so the next slot opens one interval after the first request.
	time.Sleep(110 * time.Millisecond)
	if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusOK {
		t.Errorf("Expected request after one interval to pass, got %d", resp.Status)
	}
}

func TestThrottleHonoursCancellation(t *testing.T) {
	for name, config := range map[string]ThrottleConfig{
		"bounded":   {Rate: 1, MaxWait: 5 * time.Second},
		"unbounded": {Rate: 1},
	} {
		t.Run(name, func(t *testing.T) {
			h := Chain(Throttle(NewUberRateLimiter(config), nil)).Build(okHandler)
			if resp := h(newRequest(t, "GET", "/", nil)); resp.Status != http.StatusOK {
				t.Fatalf("Expected first request to pass, got %d", resp.Status)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			start := time.Now()
			resp := h(newRequest(t, "GET", "/", nil).WithContext(ctx))
			elapsed := time.Since(start)
			if resp.Status != http.StatusServiceUnavailable {
				t.Errorf("Expected cancelled request to get 503, got %d", resp.Status)
			}
			if elapsed > 500*time.Millisecond {
				t.Errorf("Expected wait to end with the context, took %v", elapsed)
			}
		})
	}
}

func TestThrottlePerClient(t *testing.T) {
	limiter := NewUberRateLimiter(ThrottleConfig{Rate: 1, PerClient: true, MaxWait: 10 * time.Millisecond})
	h := Chain(Throttle(limiter, nil)).Build(okHandler)

	for _, addr := range []string{"192.0.2.1:1", "192.0.2.2:1", "192.0.2.3:1"} {
		req := newRequest(t, "GET", "/", nil)
		req.RemoteAddr = addr
		if resp := h(req); resp.Status != http.StatusOK {
			t.Errorf("Expected first request from %s to pass, got %d", addr, resp.Status)
		}
	}
}

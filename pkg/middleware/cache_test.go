package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *atomic.Int32, status int) common.Handler {
	return func(r *common.Request) *common.Response {
		calls.Add(1)
		return common.JSON(status, map[string]int32{"n": calls.Load()})
	}
}

func TestCacheHitAndMiss(t *testing.T) {
	var calls atomic.Int32
	h := Chain(Cache(DefaultCacheConfig(), nil)).Build(countingHandler(&calls, http.StatusOK))

	first := h(newRequest(t, "GET", "/items?page=1", nil))
	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))

	second := h(newRequest(t, "GET", "/items?page=1", nil))
	assert.Equal(t, "HIT", second.Header.Get("X-Cache"))
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, "application/json", second.Header.Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())

	// A different query string is a different key.
	third := h(newRequest(t, "GET", "/items?page=2", nil))
	assert.Equal(t, "MISS", third.Header.Get("X-Cache"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheSkips(t *testing.T) {
	var calls atomic.Int32
	h := Chain(Cache(DefaultCacheConfig(), nil)).Build(countingHandler(&calls, http.StatusOK))

	tests := []struct {
		name   string
		method string
		path   string
		header string
	}{
		{"post", "POST", "/items", ""},
		{"health", "GET", "/health", ""},
		{"authorization", "GET", "/items", "Authorization"},
		{"upgrade", "GET", "/items", "Upgrade"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := calls.Load()
			for i := 0; i < 2; i++ {
				req := newRequest(t, tt.method, tt.path, nil)
				if tt.header != "" {
					req.Header.Set(tt.header, "x")
				}
				resp := h(req)
				assert.Empty(t, resp.Header.Get("X-Cache"))
			}
			assert.Equal(t, before+2, calls.Load())
		})
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	var calls atomic.Int32
	h := Chain(Cache(DefaultCacheConfig(), nil)).Build(countingHandler(&calls, http.StatusInternalServerError))

	for i := 0; i < 2; i++ {
		resp := h(newRequest(t, "GET", "/flaky", nil))
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
		assert.Empty(t, resp.Header.Get("X-Cache"))
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheExpires(t *testing.T) {
	now := time.Now()
	config := DefaultCacheConfig()
	config.TTL = time.Minute
	config.Store = store.NewMemoryStore(store.WithClock(func() time.Time { return now }))

	var calls atomic.Int32
	h := Chain(Cache(config, nil)).Build(countingHandler(&calls, http.StatusOK))

	h(newRequest(t, "GET", "/items", nil))
	now = now.Add(2 * time.Minute)
	resp := h(newRequest(t, "GET", "/items", nil))
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	h := Chain(Cache(DefaultCacheConfig(), nil)).Build(func(r *common.Request) *common.Response {
		calls.Add(1)
		<-release
		return common.Text(http.StatusOK, "slow")
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := h(newRequest(t, "GET", "/slow", nil))
			assert.Equal(t, "slow", string(resp.Body))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := store.DefaultRedisConfig()
	cfg.Address = mr.Addr()
	rs, err := store.NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	config := DefaultCacheConfig()
	config.Store = rs
	var calls atomic.Int32
	h := Chain(Cache(config, nil)).Build(countingHandler(&calls, http.StatusOK))

	h(newRequest(t, "GET", "/items", nil))
	resp := h(newRequest(t, "GET", "/items", nil))
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.True(t, mr.Exists("sdispatch:cache:GET:/items"))
}

func TestDedup(t *testing.T) {
	var calls atomic.Int32
	h := Chain(Dedup(DedupConfig{}, nil)).Build(countingHandler(&calls, http.StatusCreated))

	send := func(key string) *common.Response {
		req := newRequest(t, "POST", "/orders", []byte(`{}`))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		return h(req)
	}

	assert.Equal(t, http.StatusCreated, send("abc").Status)
	dup := send("abc")
	assert.Equal(t, http.StatusConflict, dup.Status)
	assert.Equal(t, "duplicate_request", errorType(t, dup))
	assert.Contains(t, string(dup.Body), "Request with key 'abc' has already been processed")

	assert.Equal(t, http.StatusCreated, send("def").Status)
	assert.Equal(t, http.StatusCreated, send("").Status)
	assert.Equal(t, http.StatusCreated, send("").Status)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDedupKeyExpires(t *testing.T) {
	now := time.Now()
	config := DedupConfig{
		TTL:   time.Minute,
		Store: store.NewMemoryStore(store.WithClock(func() time.Time { return now })),
	}
	h := Chain(Dedup(config, nil)).Build(okHandler)

	req := newRequest(t, "POST", "/orders", nil)
	req.Header.Set("Idempotency-Key", "k")
	h(req)

	now = now.Add(2 * time.Minute)
	req = newRequest(t, "POST", "/orders", nil)
	req.Header.Set("Idempotency-Key", "k")
	assert.Equal(t, http.StatusOK, h(req).Status)
}

type failingStore struct{ store.Store }

func (failingStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return false, errors.New("store down")
}

func TestDedupStoreFailureLetsRequestThrough(t *testing.T) {
	h := Chain(Dedup(DedupConfig{Store: failingStore{}}, nil)).Build(okHandler)

	req := newRequest(t, "POST", "/orders", nil)
	req.Header.Set("Idempotency-Key", "k")
	assert.Equal(t, http.StatusOK, h(req).Status)
}

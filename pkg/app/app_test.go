package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/Suhaibinator/SDispatch/pkg/extract"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/Suhaibinator/SDispatch/pkg/router"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type message struct {
	Message string `json:"message"`
}

func hello() common.Endpoint {
	return extract.Handler0(func(ctx context.Context) (message, error) {
		return message{Message: "Hello, World!"}, nil
	})
}

// serve builds the app and runs one request through the real server adapter.
func serve(t *testing.T, a *App, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := a.Server()
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func TestHelloWorld(t *testing.T) {
	a := New(Config{Logger: zap.NewNop()}).Route("/hello", router.Get(hello()))

	rr := serve(t, a, httptest.NewRequest("GET", "/hello", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, `{"message":"Hello, World!"}`, rr.Body.String())
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	a := New(Config{Logger: zap.NewNop(), EnableTraceID: true}).
		Route("/hello", router.Get(hello()).Post(hello()))

	rr := serve(t, a, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"not_found"`)
	assert.Contains(t, rr.Body.String(), `"request_id":"`)
	assert.NotEmpty(t, rr.Header().Get(common.RequestIDHeader))

	rr = serve(t, a, httptest.NewRequest("DELETE", "/hello", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, POST", rr.Header().Get("Allow"))
}

func TestLayerOrder(t *testing.T) {
	var order []string
	record := func(name string) common.Layer {
		return common.LayerFunc(name, func(r *common.Request, next common.Handler) *common.Response {
			order = append(order, name)
			resp := next(r)
			order = append(order, name)
			return resp
		})
	}
	a := New(Config{Logger: zap.NewNop(), Layers: []common.Layer{record("L1")}}).
		Layer(record("L2")).
		Route("/", router.Get(router.Endpoint(func(r *common.Request) *common.Response {
			order = append(order, "H")
			return common.NoContent()
		})))

	serve(t, a, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"L1", "L2", "H", "L2", "L1"}, order)
}

func TestGlobalTimeout(t *testing.T) {
	a := New(Config{Logger: zap.NewNop(), GlobalTimeout: 100 * time.Millisecond}).
		Route("/slow", router.Get(router.Endpoint(func(r *common.Request) *common.Response {
			time.Sleep(200 * time.Millisecond)
			return common.Text(http.StatusOK, "late")
		})))

	start := time.Now()
	rr := serve(t, a, httptest.NewRequest("GET", "/slow", nil))
	assert.Equal(t, http.StatusRequestTimeout, rr.Code)
	assert.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestGlobalMaxBodySize(t *testing.T) {
	called := false
	a := New(Config{Logger: zap.NewNop(), GlobalMaxBodySize: 1024}).
		Route("/upload", router.Post(router.Endpoint(func(r *common.Request) *common.Response {
			called = true
			return common.NoContent()
		})))

	rr := serve(t, a, httptest.NewRequest("POST", "/upload", strings.NewReader(strings.Repeat("x", 2048))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.False(t, called)
}

type greeting struct{ Prefix string }

func TestStateRequirementFailsBuild(t *testing.T) {
	ep := extract.Handler1(extract.State[greeting](), func(ctx context.Context, g greeting) (string, error) {
		return g.Prefix + " there", nil
	})

	a := New(Config{Logger: zap.NewNop()}).Route("/greet", router.Get(ep))
	_, err := a.Build()
	require.Error(t, err)

	a = New(Config{Logger: zap.NewNop()}).State(greeting{Prefix: "hi"}).Route("/greet", router.Get(ep))
	rr := serve(t, a, httptest.NewRequest("GET", "/greet", nil))
	assert.Equal(t, "hi there", rr.Body.String())
}

func TestNestAndPathParams(t *testing.T) {
	users := router.NewRouter(nil).Route("/{id}/posts/{post_id}", router.Get(
		extract.Handler2(extract.PathParam[int]("id"), extract.PathParam[int]("post_id"),
			func(ctx context.Context, id, postID int) (map[string]int, error) {
				return map[string]int{"id": id, "post_id": postID}, nil
			})))

	a := New(Config{Logger: zap.NewNop()}).Nest("/users/", users)
	rr := serve(t, a, httptest.NewRequest("GET", "/users/42/posts/7", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":42,"post_id":7}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	a := New(Config{Logger: zap.NewNop(), EnableMetrics: true, MetricsPath: "/metrics"}).
		Route("/hello", router.Get(hello()))

	srv, err := a.Server()
	require.NoError(t, err)

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/hello", nil))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sdispatch_http_requests_total{method="GET",route="/hello",status="200"} 1`)
}

func TestBuildTwice(t *testing.T) {
	a := New(Config{Logger: zap.NewNop(), EnableMetrics: true, MetricsPath: "/metrics"}).
		Route("/hello", router.Get(hello()))
	_, err := a.Build()
	require.NoError(t, err)
	_, err = a.Build()
	require.NoError(t, err)
}

func TestCacheAndDedupLayers(t *testing.T) {
	calls := 0
	a := New(Config{
		Logger: zap.NewNop(),
		Cache:  &middleware.CacheConfig{},
		Dedup:  &middleware.DedupConfig{},
	}).Route("/items", router.Get(router.Endpoint(func(r *common.Request) *common.Response {
		calls++
		return common.Text(http.StatusOK, "items")
	})).Post(router.Endpoint(func(r *common.Request) *common.Response {
		return common.Text(http.StatusCreated, "created")
	})))

	srv, err := a.Server()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items", nil))
	}
	assert.Equal(t, 1, calls)

	post := func() int {
		req := httptest.NewRequest("POST", "/items", nil)
		req.Header.Set("Idempotency-Key", "once")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, http.StatusConflict, post())
}

func TestFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	c := config.Default()
	c.Limits.Timeout = 2 * time.Second
	c.RateLimit.Enabled = true
	c.RateLimit.Strategy = "apikey"
	c.Cache.Enabled = true
	c.Redis.Enabled = true
	c.Redis.Address = mr.Addr()

	cfg, err := FromConfig(context.Background(), c, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cfg.Store.Close() })

	assert.Equal(t, 2*time.Second, cfg.GlobalTimeout)
	require.NotNil(t, cfg.GlobalRateLimit)
	assert.Equal(t, middleware.StrategyAPIKey, cfg.GlobalRateLimit.Strategy)
	require.NotNil(t, cfg.Cache)
	assert.Nil(t, cfg.Dedup)
	assert.NotNil(t, cfg.Store)

	a := New(cfg).Route("/hello", router.Get(hello()))
	rr := serve(t, a, httptest.NewRequest("GET", "/hello", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestFromConfigRedisUnavailable(t *testing.T) {
	c := config.Default()
	c.Dedup.Enabled = true
	c.Redis.Enabled = true
	c.Redis.Address = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := FromConfig(ctx, c, zap.NewNop())
	assert.Error(t, err)
}

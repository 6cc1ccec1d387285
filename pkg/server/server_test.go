package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(r *common.Request) *common.Response {
	body, err := r.TakeBody()
	if err != nil {
		return common.ErrorResponse(r, err)
	}
	return common.Text(http.StatusOK, r.Method+" "+r.Path()+" "+string(body))
}

func TestServeHTTP(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(echoHandler, zap.New(core), DefaultConfig())

	req := httptest.NewRequest("POST", "/echo", strings.NewReader("hello"))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "POST /echo hello", rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "16", rr.Header().Get("Content-Length"))

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, "/echo", entries[0].ContextMap()["path"])
}

func TestServeHTTPLogLevels(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		core, logs := observer.New(zap.DebugLevel)
		s := New(func(r *common.Request) *common.Response {
			return common.NewResponse(tt.status)
		}, zap.New(core), DefaultConfig())

		s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

		entries := logs.FilterMessage("Request").All()
		require.Len(t, entries, 1)
		assert.Equal(t, tt.level, entries[0].Level, "status %d", tt.status)
	}
}

func TestServeHTTPPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(func(r *common.Request) *common.Response {
		r.SetRequestID("req-1")
		panic("kaboom")
	}, zap.New(core), DefaultConfig())

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("GET", "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":{"type":"internal_error","message":"Internal Server Error"},"request_id":"req-1"}`, rr.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("Panic in request handler").Len())
}

func TestServeHTTPNilResponse(t *testing.T) {
	s := New(func(r *common.Request) *common.Response { return nil }, nil, DefaultConfig())

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestServeHTTPBodyTooLarge(t *testing.T) {
	called := false
	cfg := DefaultConfig()
	cfg.MaxBodyBuffer = 8
	s := New(func(r *common.Request) *common.Response {
		called = true
		return common.NoContent()
	}, nil, cfg)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("POST", "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"payload_too_large"`)
	assert.False(t, called)

	// Without a declared length the limit is enforced while reading.
	req := httptest.NewRequest("POST", "/", io.NopCloser(strings.NewReader("0123456789")))
	req.ContentLength = -1
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.False(t, called)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestServeHTTPBodyReadError(t *testing.T) {
	s := New(echoHandler, nil, DefaultConfig())

	req := httptest.NewRequest("POST", "/", failingReader{})
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"bad_request"`)
}

func TestServeHTTPHead(t *testing.T) {
	s := New(func(r *common.Request) *common.Response {
		return common.Text(http.StatusOK, "body")
	}, nil, DefaultConfig())

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("HEAD", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, "4", rr.Header().Get("Content-Length"))
}

func TestServeHTTPUpgrade(t *testing.T) {
	s := New(func(r *common.Request) *common.Response {
		resp := common.NewResponse(http.StatusSwitchingProtocols)
		resp.Header.Set("X-Upgrade", "yes")
		resp.Upgrade = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			io.WriteString(w, "hooked")
		}
		return resp
	}, nil, DefaultConfig())

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "hooked", rr.Body.String())
	assert.Equal(t, "yes", rr.Header().Get("X-Upgrade"))
}

func TestServeHTTPUpgradeIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(func(r *common.Request) *common.Response {
		r.SetPattern("/ws/echo")
		resp := common.NewResponse(http.StatusSwitchingProtocols)
		resp.Upgrade = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}
		return resp
	}, zap.New(core), DefaultConfig())

	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws/echo", nil))

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/ws/echo", fields["path"])
	assert.Equal(t, "/ws/echo", fields["route"])
	assert.Equal(t, int64(http.StatusSwitchingProtocols), fields["status"])
	assert.Contains(t, fields, "duration")
}

func TestServeAndGracefulShutdown(t *testing.T) {
	started := make(chan struct{})
	s := New(func(r *common.Request) *common.Response {
		if r.Path() == "/slow" {
			close(started)
			time.Sleep(100 * time.Millisecond)
		}
		return common.Text(http.StatusOK, "done")
	}, nil, DefaultConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	type result struct {
		status int
		body   string
		err    error
	}
	slow := make(chan result, 1)
	go func() {
		resp, err := http.Get(url + "/slow")
		if err != nil {
			slow <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		slow <- result{status: resp.StatusCode, body: string(b)}
	}()

	<-started
	cancel()

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	res := <-slow
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "done", res.body)
}

func TestShutdownRejectsNewRequests(t *testing.T) {
	s := New(echoHandler, nil, DefaultConfig())
	require.NoError(t, s.Shutdown(context.Background()))

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"type":"service_unavailable"`)
}

func TestShutdownTimesOut(t *testing.T) {
	release := make(chan struct{})
	s := New(func(r *common.Request) *common.Response {
		<-release
		return common.NoContent()
	}, nil, DefaultConfig())
	defer close(release)

	go s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(echoHandler, nil, DefaultConfig())
	err = s.Run(context.Background(), ln.Addr().String())
	assert.ErrorContains(t, err, "listening on")
}

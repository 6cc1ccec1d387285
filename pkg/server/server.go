// Package server adapts a dispatch chain to net/http. It buffers request bodies,
// runs the chain inside a panic boundary, writes the response or hands the connection
// to an upgrade hook, and drains in-flight requests on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds transport settings for the server.
type Config struct {
	// MaxBodyBuffer is the largest request body read into memory. Larger bodies get 413.
	MaxBodyBuffer int64

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout bounds how long Run waits for in-flight requests after ctx is cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodyBuffer:     10 << 20,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Server serves a dispatch chain over HTTP. It implements http.Handler.
type Server struct {
	handler common.Handler
	logger  *zap.Logger
	config  Config

	wg         sync.WaitGroup
	shutdown   bool
	shutdownMu sync.RWMutex

	httpMu sync.Mutex
	http   *http.Server
}

// New creates a server that dispatches every request to handler.
func New(handler common.Handler, logger *zap.Logger, config Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxBodyBuffer <= 0 {
		config.MaxBodyBuffer = DefaultConfig().MaxBodyBuffer
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	return &Server{handler: handler, logger: logger, config: config}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add happens under the read lock Shutdown takes, so Wait never races it.
	s.shutdownMu.RLock()
	if s.shutdown {
		s.shutdownMu.RUnlock()
		s.write(w, r, common.ErrorResponse(nil, common.ServiceUnavailable("Service Unavailable")))
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	start := time.Now()

	body, errResp := s.readBody(w, r)
	if errResp != nil {
		s.write(w, r, errResp)
		s.logRequest(r, nil, errResp.Status, time.Since(start))
		return
	}

	req := common.FromHTTP(r, body)
	resp := s.dispatch(req)

	if resp.Upgrade != nil {
		s.logger.Debug("Upgrading connection", s.fields(r, req, resp.Status, time.Since(start))...)
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		resp.Upgrade(w, r)
		s.logRequest(r, req, resp.Status, time.Since(start))
		return
	}

	s.write(w, r, resp)
	s.logRequest(r, req, resp.Status, time.Since(start))
}

// readBody buffers the request body up to MaxBodyBuffer.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *common.Response) {
	tooLarge := func() *common.Response {
		return common.ErrorResponse(nil, common.PayloadTooLarge(
			fmt.Sprintf("Request body exceeds limit of %d bytes", s.config.MaxBodyBuffer)))
	}
	if r.ContentLength > s.config.MaxBodyBuffer {
		return nil, tooLarge()
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBuffer))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, tooLarge()
		}
		s.logger.Warn("Failed to read request body", zap.String("path", r.URL.Path), zap.Error(err))
		return nil, common.ErrorResponse(nil, common.BadRequest("Failed to read request body"))
	}
	return body, nil
}

// dispatch runs the chain; a panic that escaped every layer becomes a 500.
func (s *Server) dispatch(req *common.Request) (resp *common.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Panic in request handler",
				zap.String("request_id", req.RequestID()),
				zap.String("method", req.Method),
				zap.String("path", req.Path()),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
			)
			resp = common.ErrorResponse(req, common.Internal("Internal Server Error"))
		}
	}()
	resp = s.handler(req)
	if resp == nil {
		s.logger.Error("Handler returned no response", zap.String("path", req.Path()))
		resp = common.ErrorResponse(req, common.Internal("Internal Server Error"))
	}
	return resp
}

// write sends the response. HEAD requests get headers only.
func (s *Server) write(w http.ResponseWriter, r *http.Request, resp *common.Response) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	if h.Get("Content-Length") == "" && resp.Status != http.StatusNoContent && resp.Status != http.StatusNotModified {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead || len(resp.Body) == 0 {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("Failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) fields(r *http.Request, req *common.Request, status int, d time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", d),
		zap.String("remote_addr", r.RemoteAddr),
	}
	if req != nil {
		if id := req.RequestID(); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if route := req.Pattern(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if ip, ok := common.GetExtension[common.ClientIP](req); ok {
			fields = append(fields, zap.String("client_ip", string(ip)))
		}
	}
	return fields
}

// logRequest writes the access log line. The level follows the status class.
func (s *Server) logRequest(r *http.Request, req *common.Request, status int, d time.Duration) {
	fields := s.fields(r, req, status, d)
	switch {
	case status >= 500:
		s.logger.Error("Request", fields...)
	case status >= 400:
		s.logger.Warn("Request", fields...)
	default:
		s.logger.Info("Request", fields...)
	}
}

// Run listens on addr and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or serving fails.
// On cancellation it stops accepting, waits up to ShutdownTimeout for in-flight
// requests and returns the shutdown error, if any.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
		// In-flight requests outlive ctx; shutdown drains them.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.httpMu.Lock()
	s.http = srv
	s.httpMu.Unlock()

	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))

	stopped := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(stopped)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-stopped:
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting requests and waits for in-flight requests to finish.
// Requests that arrive meanwhile are answered with 503. If ctx ends first its error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.logger.Info("Shutting down server")

	var err error
	s.httpMu.Lock()
	srv := s.http
	s.httpMu.Unlock()
	if srv != nil {
		if serr := srv.Shutdown(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("shutting down http server: %w", serr))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for in-flight requests: %w", ctx.Err()))
	}
	return err
}

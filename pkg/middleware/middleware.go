// Package middleware provides the built-in layers for the SDispatch framework.
// Every constructor returns a common.Layer; the first layer in a stack is the outermost.
package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.uber.org/zap"
)

// Chain collects layers into a stack in the order given.
func Chain(layers ...common.Layer) common.LayerStack {
	return common.NewLayerStack(layers...)
}

// requestFields are the log fields shared by every layer.
func requestFields(r *common.Request, extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, len(extra)+3)
	if id := r.RequestID(); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	fields = append(fields,
		zap.String("method", r.Method),
		zap.String("path", r.Path()),
	)
	return append(fields, extra...)
}

// Recovery is a layer that recovers from panics in inner layers and handlers.
func Recovery(logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("recovery", func(r *common.Request, next common.Handler) (resp *common.Response) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic recovered", requestFields(r,
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
				)...)
				resp = common.ErrorResponse(r, common.Internal("Internal Server Error"))
			}
		}()
		return next(r)
	})
}

// Logging is a layer that logs requests.
// Server errors log at Error, client errors and requests slower than slow at Warn,
// everything else at Debug to avoid log spam. A zero slow defaults to one second.
func Logging(logger *zap.Logger, slow time.Duration) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slow <= 0 {
		slow = time.Second
	}
	return common.LayerFunc("logging", func(r *common.Request, next common.Handler) *common.Response {
		start := time.Now()
		resp := next(r)
		duration := time.Since(start)

		fields := requestFields(r,
			zap.Int("status", resp.Status),
			zap.Duration("duration", duration),
		)
		if ip, ok := common.GetExtension[common.ClientIP](r); ok {
			fields = append(fields, zap.String("client_ip", string(ip)))
		}

		switch {
		case resp.Status >= 500:
			logger.Error("Server error", append(fields, zap.String("remote_addr", r.RemoteAddr))...)
		case resp.Status >= 400:
			logger.Warn("Client error", fields...)
		case duration > slow:
			logger.Warn("Slow request", fields...)
		default:
			logger.Debug("Request", fields...)
		}
		return resp
	})
}

// MaxBodySize is a layer that rejects requests whose body exceeds maxSize bytes with 413.
// The declared Content-Length is checked first, then the buffered body.
func MaxBodySize(maxSize int64) common.Layer {
	return common.LayerFunc("body_limit", func(r *common.Request, next common.Handler) *common.Response {
		if r.ContentLength > maxSize || int64(r.BodyLen()) > maxSize {
			return common.ErrorResponse(r, common.PayloadTooLarge(
				fmt.Sprintf("Request body exceeds limit of %d bytes", maxSize)))
		}
		return next(r)
	})
}

// Timeout is a layer that bounds the time spent in the inner chain.
// The inner chain runs on its own goroutine with a cloned request whose context carries
// the deadline. When the deadline passes first the layer answers 408 and the inner result,
// whenever it arrives, is discarded.
func Timeout(timeout time.Duration, logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("timeout", func(r *common.Request, next common.Handler) *common.Response {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		inner := r.Clone(ctx)
		// Buffered so the goroutine can always deliver and exit after we stop listening.
		done := make(chan *common.Response, 1)
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					panicked <- rec
				}
			}()
			done <- next(inner)
		}()

		select {
		case resp := <-done:
			// Routing happened on the clone; carry the match back for outer layers.
			r.SetPattern(inner.Pattern())
			r.SetParams(inner.Params())
			return resp
		case rec := <-panicked:
			panic(rec)
		case <-ctx.Done():
			if r.Context().Err() != nil {
				// The client went away; there is nobody to answer.
				return common.ErrorResponse(r, common.ServiceUnavailable("Request cancelled"))
			}
			logger.Warn("Request timed out", requestFields(r, zap.Duration("timeout", timeout))...)
			return common.ErrorResponse(r, common.RequestTimeout(
				"Request timed out after "+strconv.FormatInt(timeout.Milliseconds(), 10)+"ms"))
		}
	})
}

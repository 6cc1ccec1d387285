package middleware

import (
	"net/http"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used when no service name is configured.
const TracerName = "github.com/Suhaibinator/SDispatch"

// TracingConfig holds configuration for the tracing layer.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	ServiceName    string
	SkipPaths      []string
}

// Tracing creates a layer that starts an OpenTelemetry server span per request.
// The incoming trace context is extracted from the headers and the span context is
// installed on the request, so handlers see it through ctx. The span is named after
// the matched route once routing is done.
func Tracing(config TracingConfig) common.Layer {
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Propagators == nil {
		config.Propagators = otel.GetTextMapPropagator()
	}
	if config.ServiceName == "" {
		config.ServiceName = TracerName
	}
	tracer := config.TracerProvider.Tracer(config.ServiceName)

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return common.LayerFunc("tracing", func(r *common.Request, next common.Handler) *common.Response {
		path := r.Path()
		if skipPaths[path] {
			return next(r)
		}

		ctx := config.Propagators.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", path),
				attribute.String("url.query", r.URL.RawQuery),
			),
		)
		defer span.End()

		if id := r.RequestID(); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		if ip := ClientIP(r); ip != "" {
			span.SetAttributes(attribute.String("client.address", ip))
		}

		resp := next(r.WithContext(ctx))

		if route := r.Pattern(); route != "" {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.Status),
			attribute.Int("http.response.body.size", len(resp.Body)),
		)
		if resp.Status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}

		// Hand the trace context to the client for correlation.
		config.Propagators.Inject(ctx, propagation.HeaderCarrier(ensureHeader(resp)))
		return resp
	})
}

func ensureHeader(resp *common.Response) http.Header {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	return resp.Header
}

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var sizeBuckets = []float64{100, 1000, 10000, 100000, 1000000}

// Collector owns the HTTP collectors. Label values are the method, the matched route
// pattern (never the raw path, which would be unbounded) and the status code.
type Collector struct {
	config   MetricsConfig
	sampler  MetricsSampler
	reqCount *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	reqSize  *prometheus.HistogramVec
	respSize *prometheus.HistogramVec
	errCount *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewCollector creates the enabled collectors and registers them with reg.
// Collectors already registered by an earlier Collector with the same config are reused.
func NewCollector(reg prometheus.Registerer, config MetricsConfig) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{config: config, sampler: NewRandomSampler(config.SamplingRate)}
	labels := prometheus.Labels(config.DefaultTags)
	base := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}
	}
	histogram := func(name, help string, buckets []float64) prometheus.HistogramOpts {
		o := base(name, help)
		return prometheus.HistogramOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        o.Name,
			Help:        o.Help,
			ConstLabels: o.ConstLabels,
			Buckets:     buckets,
		}
	}
	var err error

	if config.EnableQPS {
		c.reqCount, err = register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts(base("http_requests_total", "Total number of HTTP requests")),
			[]string{"method", "route", "status"}))
		if err != nil {
			return nil, err
		}
	}

	if config.EnableLatency {
		buckets := config.LatencyBuckets
		if len(buckets) == 0 {
			buckets = defaultLatencyBuckets
		}
		c.latency, err = register(reg, prometheus.NewHistogramVec(
			histogram("http_request_duration_seconds", "HTTP request latency in seconds", buckets),
			[]string{"method", "route"}))
		if err != nil {
			return nil, err
		}
	}

	if config.EnableThroughput {
		c.reqSize, err = register(reg, prometheus.NewHistogramVec(
			histogram("http_request_size_bytes", "HTTP request size in bytes", sizeBuckets),
			[]string{"method", "route"}))
		if err != nil {
			return nil, err
		}
		c.respSize, err = register(reg, prometheus.NewHistogramVec(
			histogram("http_response_size_bytes", "HTTP response size in bytes", sizeBuckets),
			[]string{"method", "route"}))
		if err != nil {
			return nil, err
		}
	}

	if config.EnableErrors {
		c.errCount, err = register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts(base("http_errors_total", "Total number of HTTP errors")),
			[]string{"method", "route", "status"}))
		if err != nil {
			return nil, err
		}
	}

	if config.EnableInFlight {
		c.inFlight, err = register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts(base("http_requests_in_flight", "Number of HTTP requests being served"))))
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// register registers col, returning the existing collector when an identical one is
// already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, col C) (C, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// Sample reports whether the current request should be measured.
func (c *Collector) Sample() bool {
	return c.sampler.Sample()
}

// Begin marks a request as in flight and returns the function that ends it.
func (c *Collector) Begin() func() {
	if c.inFlight == nil {
		return func() {}
	}
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// Observe records one finished request.
func (c *Collector) Observe(method, route string, status int, reqSize, respSize int64, d time.Duration) {
	code := strconv.Itoa(status)
	if c.reqCount != nil {
		c.reqCount.WithLabelValues(method, route, code).Inc()
	}
	if c.latency != nil {
		c.latency.WithLabelValues(method, route).Observe(d.Seconds())
	}
	if c.reqSize != nil {
		c.reqSize.WithLabelValues(method, route).Observe(float64(reqSize))
	}
	if c.respSize != nil {
		c.respSize.WithLabelValues(method, route).Observe(float64(respSize))
	}
	if c.errCount != nil && status >= 400 {
		c.errCount.WithLabelValues(method, route, code).Inc()
	}
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Package metrics provides the Prometheus collectors behind the metrics layer and the
// handler that exposes them.
package metrics

import (
	"math/rand/v2"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

// Tags are constant labels added to every metric.
type Tags map[string]string

// MetricsFilter determines whether to collect metrics for a request
type MetricsFilter interface {
	// Filter returns true if metrics should be collected for the request
	Filter(r *common.Request) bool
}

// FilterFunc adapts a function to MetricsFilter.
type FilterFunc func(r *common.Request) bool

// Filter calls f(r).
func (f FilterFunc) Filter(r *common.Request) bool { return f(r) }

// MetricsConfig configures metrics collection
type MetricsConfig struct {
	// Namespace and Subsystem prefix every metric name.
	Namespace string
	Subsystem string

	// EnableLatency enables the request duration histogram
	EnableLatency bool
	// EnableThroughput enables request and response size histograms
	EnableThroughput bool
	// EnableQPS enables the request counter
	EnableQPS bool
	// EnableErrors enables the error counter (status >= 400)
	EnableErrors bool
	// EnableInFlight enables the in-flight gauge
	EnableInFlight bool

	// LatencyBuckets defines the buckets for latency histograms
	LatencyBuckets []float64
	// SamplingRate defines the sampling rate for metrics (0.0-1.0)
	SamplingRate float64
	// DefaultTags are added to all metrics
	DefaultTags Tags
}

// DefaultConfig enables every metric and samples all requests.
func DefaultConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:        "sdispatch",
		EnableLatency:    true,
		EnableThroughput: true,
		EnableQPS:        true,
		EnableErrors:     true,
		EnableInFlight:   true,
		SamplingRate:     1.0,
	}
}

// MetricsSampler samples metrics at a given rate
type MetricsSampler interface {
	// Sample returns true if the metric should be sampled
	Sample() bool
}

type randomSampler struct {
	rate float64
}

// NewRandomSampler creates a new random sampler with the given rate
func NewRandomSampler(rate float64) MetricsSampler {
	return &randomSampler{rate: min(max(rate, 0.0), 1.0)}
}

// Sample returns true if the metric should be sampled
func (s *randomSampler) Sample() bool {
	switch {
	case s.rate >= 1.0:
		return true
	case s.rate <= 0.0:
		return false
	}
	return rand.Float64() < s.rate
}

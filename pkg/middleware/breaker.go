package middleware

import (
	"errors"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// errServerFailure marks a 5xx response as a failure for the breaker.
var errServerFailure = errors.New("server error response")

// CircuitBreakerConfig configures the circuit breaker layer.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// Threshold is the minimum number of requests in an interval before the breaker may trip.
	Threshold uint32
	// FailureRatio trips the breaker when this share of requests fail. Defaults to 0.5.
	FailureRatio float64
	// Interval is the cyclic period after which closed-state counts are cleared.
	Interval time.Duration
	// Timeout is how long the breaker stays open before letting probe requests through.
	Timeout time.Duration
	// HalfOpenRequests is the number of probe requests allowed while half-open.
	HalfOpenRequests uint32
}

// CircuitBreaker wraps gobreaker.CircuitBreaker as a layer.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewCircuitBreaker creates a circuit breaker. 5xx responses and panics count as failures.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Threshold == 0 {
		config.Threshold = 10
	}
	if config.FailureRatio <= 0 {
		config.FailureRatio = 0.5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}

	b := &CircuitBreaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.Threshold && failureRatio >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

// State returns the current state of the circuit breaker.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Name implements common.Layer.
func (b *CircuitBreaker) Name() string { return "circuit_breaker" }

// Call implements common.Layer. While the breaker is open requests are answered with 503
// without reaching the inner chain.
func (b *CircuitBreaker) Call(r *common.Request, next common.Handler) *common.Response {
	var resp *common.Response
	_, err := b.cb.Execute(func() (any, error) {
		resp = next(r)
		if resp.Status >= 500 {
			return nil, errServerFailure
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("Circuit breaker open", requestFields(r, zap.String("state", b.cb.State().String()))...)
		return common.ErrorResponse(r, common.ServiceUnavailable("Service unavailable, circuit breaker open"))
	}
	return resp
}

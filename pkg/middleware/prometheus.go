package middleware

import (
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/metrics"
)

// unmatchedRoute labels requests that did not reach a route.
const unmatchedRoute = "unmatched"

// PrometheusMetrics is a layer that records request metrics in collector.
// Requests are labeled with the matched route pattern, so it must wrap the router.
// filter may be nil.
func PrometheusMetrics(collector *metrics.Collector, filter metrics.MetricsFilter) common.Layer {
	return common.LayerFunc("metrics", func(r *common.Request, next common.Handler) *common.Response {
		if filter != nil && !filter.Filter(r) {
			return next(r)
		}
		if !collector.Sample() {
			return next(r)
		}

		end := collector.Begin()
		defer end()

		reqSize := max(r.ContentLength, int64(r.BodyLen()))
		start := time.Now()
		resp := next(r)

		route := r.Pattern()
		if route == "" {
			route = unmatchedRoute
		}
		collector.Observe(r.Method, route, resp.Status, reqSize, int64(len(resp.Body)), time.Since(start))
		return resp
	})
}

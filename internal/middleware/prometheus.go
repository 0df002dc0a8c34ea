// SPDX-License-Identifier: AGPL-3.0-or-later

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/couchkit/internal/metrics"
)

// PrometheusMetrics instruments the diagnostics HTTP surface: in-flight
// request gauge, request counter by route/status, and latency histogram
// by route. The route label is the chi routing pattern (e.g. "/nodes"),
// not the raw URL, so it stays low-cardinality even if a future route
// carries a path parameter.
func PrometheusMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.DiagnosticsActiveHTTPRequests.Inc()
		defer metrics.DiagnosticsActiveHTTPRequests.Dec()

		start := time.Now()

		wrapper := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(wrapper, r)

		duration := time.Since(start)
		route := routePattern(r)

		metrics.DiagnosticsHTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(wrapper.statusCode)).Inc()
		metrics.DiagnosticsHTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// routePattern returns the matched chi route pattern, falling back to the
// raw path if the request wasn't routed through chi (e.g. a direct test
// call with no chi.RouteContext installed).
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

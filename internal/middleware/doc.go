// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package middleware provides HTTP middleware components for the
internal/diagnostics read-only HTTP surface.

This package implements infrastructure middleware for compression, performance
monitoring, request ID tracking, and Prometheus metrics integration. CORS and
rate limiting are handled directly in internal/diagnostics via go-chi/cors and
go-chi/httprate rather than through this package.

Key Components:

  - Compression: Gzip compression for responses to gzip-accepting clients
  - Performance Monitor: Request latency tracking with percentile calculations
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

internal/diagnostics.NewServer wires these as:

	r.Get("/nodes", middleware.PrometheusMetrics( // Layer 1: Metrics
	    middleware.Compression(                   // Layer 2: Gzip
	        handleNodes,                          // Layer 3: Business logic
	    ),
	))

with middleware.RequestID installed once as router-level chi middleware
ahead of every route.

Usage Example - Compression:

	import "github.com/tomtom215/couchkit/internal/middleware"

	// Wrap handler with gzip compression
	http.HandleFunc("/api/v1/data",
	    middleware.Compression(handler),
	)

	// Responses of any size are automatically compressed
	// Accept-Encoding: gzip header is required

Usage Example - Performance Monitoring:

	// Create performance monitor with a 1000-sample rolling window
	perfMon := middleware.NewPerformanceMonitor(1000)

	// Wrap handler
	http.HandleFunc("/perf",
	    perfMon.Middleware(handler),
	)

	// Get performance statistics, one entry per "METHOD path" seen
	for _, s := range perfMon.GetStats() {
	    fmt.Printf("%s p50=%dms p95=%dms p99=%dms\n", s.Path, s.P50Duration, s.P95Duration, s.P99Duration)
	}

Usage Example - Request ID:

	// Request ID middleware
	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Performance Characteristics:

  - Compression: 70-90% size reduction for JSON (text/json mime types)
  - Compression overhead: ~1-2ms for typical responses
  - Metrics overhead: <0.1ms per request
  - Request ID overhead: <0.01ms (UUID generation)
  - Performance monitor: Mutex-guarded sliding window of latency samples

Compression Details:

The compression middleware:
  - Compresses responses of every size; there is no threshold
  - Supports gzip encoding (Accept-Encoding: gzip)
  - Applies to every content type; the mime type is not inspected
  - Automatically sets Content-Encoding header
  - Passes WebSocket upgrade requests through uncompressed
  - Does not implement http.Flusher; compressed output is flushed when
    the wrapped handler returns

Performance Monitor:

The performance monitor tracks:
  - Request count per endpoint (no error rate is computed)
  - Latency percentiles (p50, p95, p99)
  - Rolling window of the most recent requests, sized by the
    NewPerformanceMonitor argument (1000 in internal/diagnostics)
  - Thread-safe concurrent access with RWMutex

Thread Safety:

All middleware components are thread-safe:
  - Compression uses per-request gzip writers
  - Performance monitor uses sync.RWMutex
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/diagnostics: the HTTP surface this middleware instruments
  - internal/metrics: Prometheus metrics definitions
*/
package middleware

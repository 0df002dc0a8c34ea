// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchRequestsTotal counts every request that reached a locator's
	// dispatch step, labeled by outcome ("dispatched", "cancelled").
	DispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_dispatch_requests_total",
			Help: "Total requests dispatched by service type and outcome.",
		},
		[]string{"service", "outcome"},
	)

	// DispatchRequestDuration tracks request completion latency, labeled by
	// service type and the last-dispatched host:port, matching the
	// (service_type, host:port, request_name) key Core.response_metric uses.
	DispatchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "couchkit_dispatch_request_duration_seconds",
			Help:    "Request completion latency by service and node.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"service", "node", "operation"},
	)

	// ActiveRequests is the number of requests currently dispatched and
	// awaiting completion, per service type.
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "couchkit_dispatch_active_requests",
			Help: "In-flight requests by service type.",
		},
		[]string{"service"},
	)

	// CircuitBreakerState mirrors gobreaker.State: 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "couchkit_circuit_breaker_state",
			Help: "Per-service circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"name", "from_state", "to_state"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_circuit_breaker_requests_total",
			Help: "Requests observed by a service's circuit breaker, by result.",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	// ReconciliationDuration times a single reconciler pass end to end.
	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "couchkit_reconciliation_duration_seconds",
			Help:    "Topology reconciliation pass duration.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	ReconciliationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_reconciliation_total",
			Help: "Reconciliation passes by outcome.",
		},
		[]string{"outcome"}, // completed, ignored, error
	)

	// LiveNodes reports the current size of the node set; node.Set updates
	// it whenever its membership changes. No package in this module sets
	// LiveServices.
	LiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "couchkit_live_nodes",
			Help: "Number of nodes currently in the live set.",
		},
	)

	LiveServices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "couchkit_live_services",
			Help: "Number of enabled services by service type, across all live nodes.",
		},
		[]string{"service"},
	)

	// DiagnosticsHTTPRequestsTotal and DiagnosticsHTTPRequestDuration
	// instrument internal/diagnostics's own read-only HTTP surface, not
	// the dispatch path — separate labels keep an operator's probe
	// traffic from polluting dispatch-path metrics.
	DiagnosticsHTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_diagnostics_http_requests_total",
			Help: "Diagnostics HTTP surface requests by route and status.",
		},
		[]string{"route", "status"},
	)

	DiagnosticsHTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "couchkit_diagnostics_http_request_duration_seconds",
			Help:    "Diagnostics HTTP surface request latency by route.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"route"},
	)

	DiagnosticsActiveHTTPRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "couchkit_diagnostics_http_active_requests",
			Help: "In-flight requests against the diagnostics HTTP surface.",
		},
	)
)

// ResponseRecorder is the value recorder Core.response_metric returns: a
// closure over one (service, node, operation) label triple so callers don't
// re-assemble label vectors on every completion.
type ResponseRecorder struct {
	observer prometheus.Observer
}

// NewResponseRecorder builds the recorder for one (service, node, operation)
// key. Core caches these per key since label lookups are not free on a hot
// completion path.
func NewResponseRecorder(service, node, operation string) *ResponseRecorder {
	return &ResponseRecorder{observer: DispatchRequestDuration.WithLabelValues(service, node, operation)}
}

// Record reports how long a request took from dispatch to completion.
func (r *ResponseRecorder) Record(d time.Duration) {
	r.observer.Observe(d.Seconds())
}

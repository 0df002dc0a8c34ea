// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the Prometheus instrumentation for the dispatch
// engine: request/latency counters keyed by service and node, circuit
// breaker state and transitions, and reconciliation pass outcomes and
// timing. All metrics register against the default registry via promauto
// in a flat var block; internal/diagnostics serves them over /metrics.
package metrics

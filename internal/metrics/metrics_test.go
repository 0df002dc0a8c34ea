// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestResponseRecorderObserves(t *testing.T) {
	rec := NewResponseRecorder("kv", "10.0.0.1:11210", "get")
	rec.Record(25 * time.Millisecond)

	count := testutil.CollectAndCount(DispatchRequestDuration)
	if count == 0 {
		t.Fatal("expected DispatchRequestDuration to have observed at least one series")
	}
}

func TestCircuitBreakerStateGauge(t *testing.T) {
	CircuitBreakerState.WithLabelValues("10.0.0.1:kv:travel-sample").Set(0)
	CircuitBreakerTransitions.WithLabelValues("10.0.0.1:kv:travel-sample", "closed", "open").Inc()

	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("10.0.0.1:kv:travel-sample")); got != 0 {
		t.Errorf("CircuitBreakerState = %v, want 0", got)
	}
}

func TestReconciliationCounters(t *testing.T) {
	before := testutil.ToFloat64(ReconciliationTotal.WithLabelValues("completed"))
	ReconciliationTotal.WithLabelValues("completed").Inc()
	after := testutil.ToFloat64(ReconciliationTotal.WithLabelValues("completed"))

	if after != before+1 {
		t.Errorf("ReconciliationTotal completed = %v, want %v", after, before+1)
	}
}

// TestDispatchRequestDurationBucketLayout gathers the raw metric family to
// confirm the histogram was registered with the bucket boundaries declared
// above, rather than trusting testutil's float helpers to surface a wiring
// mistake in the bucket list.
func TestDispatchRequestDurationBucketLayout(t *testing.T) {
	DispatchRequestDuration.WithLabelValues("kv", "10.0.0.1:11210", "get").Observe(0.002)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "couchkit_dispatch_request_duration_seconds" {
			family = f
			break
		}
	}
	if family == nil {
		t.Fatal("couchkit_dispatch_request_duration_seconds not found in gathered families")
	}

	var sampleBuckets int
	for _, m := range family.GetMetric() {
		if h := m.GetHistogram(); h != nil {
			sampleBuckets = len(h.GetBucket())
			break
		}
	}
	// DispatchRequestDuration declares 11 bucket boundaries.
	if sampleBuckets != 11 {
		t.Fatalf("gathered histogram has %d bucket boundaries, want 11", sampleBuckets)
	}
}

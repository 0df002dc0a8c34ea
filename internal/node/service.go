// SPDX-License-Identifier: AGPL-3.0-or-later

package node

import (
	"errors"
	"fmt"
	"sync/atomic"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/metrics"
)

// Service encapsulates a connection pool to one (node, service type,
// optional bucket) triple. Its observable State tracks a sony/gobreaker
// circuit breaker: Connected mirrors the breaker's closed state, Degraded
// mirrors half-open and open, and Disconnected/Disconnecting are driven by the
// owning Node rather than the breaker (the breaker has no notion of a
// deliberately torn-down service).
type Service struct {
	host    string
	svcType clustertopo.ServiceType
	bucket  string

	state   atomic.Int32
	breaker *gobreaker.CircuitBreaker[any]

	// sendFunc is the wire-layer hand-off point: the concrete request
	// encoder/transport a locator's Dispatch ultimately calls through to.
	// The wire protocol byte layout itself is outside this package's
	// scope; nil means "accept the dispatch, but there is no endpoint
	// wired up yet" (the state every Service starts in, and all a test
	// double needs).
	sendFunc atomic.Pointer[func(req any) error]
}

// breakerName is the label used for both gobreaker.Settings.Name and the
// couchkit_circuit_breaker_* metrics series.
func breakerName(host string, svcType clustertopo.ServiceType, bucket string) string {
	if bucket == "" {
		return fmt.Sprintf("%s:%s", host, svcType)
	}
	return fmt.Sprintf("%s:%s:%s", host, svcType, bucket)
}

// newService builds a Service wired to its own circuit breaker: it trips
// at a failure rate of 60% or more once there are at least 10 samples in the
// window, the same conservative threshold an upstream client breaker
// would use against any remote dependency.
func newService(host string, svcType clustertopo.ServiceType, bucket string) *Service {
	name := breakerName(host, svcType, bucket)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	s := &Service{host: host, svcType: svcType, bucket: bucket}
	s.state.Store(int32(Connecting))

	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			metrics.CircuitBreakerTransitions.WithLabelValues(breakerName, gobreakerStateString(from), gobreakerStateString(to)).Inc()
			metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(gobreakerStateFloat(to))

			switch to {
			case gobreaker.StateClosed:
				s.state.Store(int32(Connected))
			case gobreaker.StateHalfOpen:
				s.state.Store(int32(Degraded))
			case gobreaker.StateOpen:
				s.state.Store(int32(Degraded))
			}
			logging.Info().Str("service", breakerName).Str("from", gobreakerStateString(from)).Str("to", gobreakerStateString(to)).Msg("service circuit breaker state change")
		},
	})

	return s
}

// Host returns the host:port this service dispatches to.
func (s *Service) Host() string { return s.host }

// Type returns the service type this Service carries requests for.
func (s *Service) Type() clustertopo.ServiceType { return s.svcType }

// Bucket returns the bucket this service is scoped to, or "" for
// non-bucket-scoped services (query, analytics, management).
func (s *Service) Bucket() string { return s.bucket }

// State returns the service's current observable state.
func (s *Service) State() State { return State(s.state.Load()) }

// Execute runs fn through the service's circuit breaker, updating
// couchkit_circuit_breaker_requests_total by result.
func (s *Service) Execute(fn func() (any, error)) (any, error) {
	name := breakerName(s.host, s.svcType, s.bucket)
	result, err := s.breaker.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	}
	return result, err
}

// SetSendFunc wires the endpoint-level send callback a locator's Dispatch
// invokes through Send. No caller in this module sets one; left nil,
// Send is a successful no-op, which is sufficient for
// every dispatch-routing behavior this module is responsible for.
func (s *Service) SetSendFunc(fn func(req any) error) {
	s.sendFunc.Store(&fn)
}

// Send runs req through the circuit breaker and, if closed, the wired
// send function (or a no-op success if none has been attached yet).
func (s *Service) Send(req any) error {
	_, err := s.Execute(func() (any, error) {
		if fn := s.sendFunc.Load(); fn != nil {
			return nil, (*fn)(req)
		}
		return nil, nil
	})
	return err
}

// disconnect marks the service as tearing down. Called by the owning Node
// when the service is removed from the topology.
func (s *Service) disconnect() {
	s.state.Store(int32(Disconnecting))
}

func gobreakerStateString(st gobreaker.State) string {
	switch st {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func gobreakerStateFloat(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

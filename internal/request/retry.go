// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy decides whether and when a dispatch failure should be retried.
// Locators call Next on a dispatch-time failure (no node, service
// disabled, bucket config absent); a false result means the request
// should be cancelled instead.
type Strategy interface {
	// Next returns the delay before the next attempt and whether one
	// should be made at all.
	Next(err error) (time.Duration, bool)
	// Reset clears any accumulated backoff state, called once a request
	// is newly dispatched (as opposed to retried).
	Reset()
}

// BackoffStrategy is the default best-effort RetryStrategy: exponential
// backoff with jitter via cenkalti/backoff, bounded by MaxElapsedTime.
type BackoffStrategy struct {
	cfg RetryConfig
	b   *backoff.ExponentialBackOff
}

// RetryConfig parameterizes BackoffStrategy. Mirrors bootconfig.RetryConfig
// field-for-field; request does not import bootconfig to avoid a cycle
// with the packages bootconfig itself may eventually need.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// NewBackoffStrategy builds a BackoffStrategy from cfg.
func NewBackoffStrategy(cfg RetryConfig) *BackoffStrategy {
	s := &BackoffStrategy{cfg: cfg}
	s.b = s.newBackOff()
	return s
}

func (s *BackoffStrategy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval
	b.Multiplier = s.cfg.Multiplier
	b.MaxElapsedTime = s.cfg.MaxElapsedTime
	b.Reset()
	return b
}

// Next returns the next backoff delay, or false once MaxElapsedTime has
// been exhausted (backoff.Stop).
func (s *BackoffStrategy) Next(_ error) (time.Duration, bool) {
	d := s.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Reset restarts the backoff sequence from InitialInterval.
func (s *BackoffStrategy) Reset() {
	s.b.Reset()
}

// NoRetry never retries; useful for requests a caller has explicitly
// marked best-effort-once (e.g. diagnostics pings).
type NoRetry struct{}

func (NoRetry) Next(error) (time.Duration, bool) { return 0, false }
func (NoRetry) Reset()                           {}

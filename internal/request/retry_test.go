// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"testing"
	"time"
)

func TestBackoffStrategyProducesIncreasingDelays(t *testing.T) {
	s := NewBackoffStrategy(RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
	})

	first, ok := s.Next(nil)
	if !ok {
		t.Fatal("expected a retry to be permitted on the first attempt")
	}
	if first <= 0 {
		t.Error("expected a positive first delay")
	}

	second, ok := s.Next(nil)
	if !ok {
		t.Fatal("expected a retry to be permitted on the second attempt")
	}
	if second < first/2 {
		t.Errorf("second delay %v collapsed well below the first %v", second, first)
	}
}

func TestBackoffStrategyStopsAfterMaxElapsed(t *testing.T) {
	s := NewBackoffStrategy(RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
		MaxElapsedTime:  1, // effectively already elapsed
	})

	time.Sleep(time.Millisecond)

	if _, ok := s.Next(nil); ok {
		t.Error("expected Next to report no further retries once MaxElapsedTime has passed")
	}
}

func TestBackoffStrategyResetRestartsSequence(t *testing.T) {
	s := NewBackoffStrategy(RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		MaxElapsedTime:  time.Hour,
	})

	s.Next(nil)
	s.Next(nil)
	s.Reset()

	afterReset, ok := s.Next(nil)
	if !ok {
		t.Fatal("expected a retry to be permitted after Reset")
	}
	if afterReset > 20*time.Millisecond {
		t.Errorf("delay after Reset = %v, want close to InitialInterval", afterReset)
	}
}

func TestNoRetryNeverRetries(t *testing.T) {
	var s NoRetry
	if _, ok := s.Next(nil); ok {
		t.Error("NoRetry.Next should always report false")
	}
}

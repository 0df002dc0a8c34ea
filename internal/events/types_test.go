// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventTopics(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		ev    Event
		topic string
	}{
		{"CoreCreated", NewCoreCreated(now, 1), TopicCore},
		{"BucketOpenInitiated", NewBucketOpenInitiated(now, "b"), TopicBucket},
		{"BucketOpened", NewBucketOpened(now, "b"), TopicBucket},
		{"BucketOpenFailed", NewBucketOpenFailed(now, "b", errors.New("boom"), "warn"), TopicBucket},
		{"BucketClosed", NewBucketClosed(now, "b"), TopicBucket},
		{"InitGlobalConfigFailed", NewInitGlobalConfigFailed(now, "NO_ACCESS", errors.New("denied")), TopicConfig},
		{"ShutdownInitiated", NewShutdownInitiated(now), TopicCore},
		{"ShutdownCompleted", NewShutdownCompleted(now, true), TopicCore},
		{"ReconfigurationIgnored", NewReconfigurationIgnored(now), TopicReconcile},
		{"ReconfigurationCompleted", NewReconfigurationCompleted(now, time.Second), TopicReconcile},
		{"ReconfigurationErrorDetected", NewReconfigurationErrorDetected(now, errors.New("x")), TopicReconcile},
		{"ServiceReconfigurationFailed", NewServiceReconfigurationFailed(now, "10.0.0.1", errors.New("x")), TopicReconcile},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.Topic(); got != tc.topic {
				t.Errorf("Topic() = %q, want %q", got, tc.topic)
			}
			if !tc.ev.OccurredAt().Equal(now) {
				t.Errorf("OccurredAt() = %v, want %v", tc.ev.OccurredAt(), now)
			}
		})
	}
}

func TestBucketOpenFailedCarriesCause(t *testing.T) {
	cause := errors.New("no nodes available")
	ev := NewBucketOpenFailed(time.Now(), "travel-sample", cause, "warn")

	if !errors.Is(ev.Err, cause) {
		t.Errorf("Err = %v, want %v", ev.Err, cause)
	}
	if ev.Severity != "warn" {
		t.Errorf("Severity = %q, want warn", ev.Severity)
	}
}

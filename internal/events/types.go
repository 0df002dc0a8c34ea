// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events defines the typed events the dispatch engine publishes
// about its own lifecycle (bucket open/close, global config, shutdown,
// topology reconciliation) and the Bus abstraction that carries them.
//
// The default Bus is an in-process watermill gochannel pubsub — no
// external broker required. An optional NATS JetStream-backed Bus is
// available behind the "nats" build tag for deployments that want
// cross-process event fan-out; nats_bus_stub.go provides a constructor
// for builds without that tag that always returns an error.
package events

import "time"

// Event is implemented by every typed event published on the bus. Topic
// groups related events on one watermill topic so a single subscription
// can observe, e.g., every bucket lifecycle event.
type Event interface {
	Topic() string
	OccurredAt() time.Time
}

// base is embedded by every concrete event to supply OccurredAt.
type base struct {
	At time.Time
}

func (b base) OccurredAt() time.Time { return b.At }

func newBase(now time.Time) base { return base{At: now} }

const (
	TopicCore      = "core"
	TopicBucket    = "bucket"
	TopicConfig    = "config"
	TopicReconcile = "reconcile"
)

// CoreCreated is published once when a Core finishes construction.
type CoreCreated struct {
	base
	InstanceID uint64
}

func (CoreCreated) Topic() string { return TopicCore }

// BucketOpenInitiated is published when OpenBucket begins.
type BucketOpenInitiated struct {
	base
	Bucket string
}

func (BucketOpenInitiated) Topic() string { return TopicBucket }

// BucketOpened is published when OpenBucket succeeds.
type BucketOpened struct {
	base
	Bucket string
}

func (BucketOpened) Topic() string { return TopicBucket }

// BucketOpenFailed is published when OpenBucket fails. Severity is "debug"
// when the core was already shut down, "warn" otherwise, per the
// dispatcher's open_bucket contract.
type BucketOpenFailed struct {
	base
	Bucket   string
	Err      error
	Severity string
}

func (BucketOpenFailed) Topic() string { return TopicBucket }

// BucketClosed is published when a bucket is closed, whether as part of an
// orderly shutdown or an explicit close.
type BucketClosed struct {
	base
	Bucket string
}

func (BucketClosed) Topic() string { return TopicBucket }

// InitGlobalConfigFailed is published when init_global_config fails; Reason
// is one of the classified causes (UNSUPPORTED, NO_CONFIG_FOUND, NO_ACCESS,
// SHUTDOWN, UNKNOWN).
type InitGlobalConfigFailed struct {
	base
	Reason string
	Err    error
}

func (InitGlobalConfigFailed) Topic() string { return TopicConfig }

// ShutdownInitiated is published exactly once per Core, even if Shutdown is
// called concurrently from multiple goroutines.
type ShutdownInitiated struct {
	base
}

func (ShutdownInitiated) Topic() string { return TopicCore }

// ShutdownCompleted is published once the live node set has drained (or the
// shutdown timeout elapsed).
type ShutdownCompleted struct {
	base
	TimedOut bool
}

func (ShutdownCompleted) Topic() string { return TopicCore }

// ReconfigurationIgnored is published when a config arrives while a
// reconciliation is already in progress; it is coalesced into the pending
// flag rather than dropped.
type ReconfigurationIgnored struct {
	base
}

func (ReconfigurationIgnored) Topic() string { return TopicReconcile }

// ReconfigurationCompleted is published after a successful reconciliation
// pass, with the elapsed wall-clock duration.
type ReconfigurationCompleted struct {
	base
	Elapsed time.Duration
}

func (ReconfigurationCompleted) Topic() string { return TopicReconcile }

// ReconfigurationErrorDetected is published when a reconciliation pass
// fails outright (as opposed to a single service failing, which is
// reported via ServiceReconfigurationFailed and swallowed).
type ReconfigurationErrorDetected struct {
	base
	Err error
}

func (ReconfigurationErrorDetected) Topic() string { return TopicReconcile }

// ServiceReconfigurationFailed is published per-node, per-service when
// ensuring or removing a service fails during reconciliation; the pass
// itself continues.
type ServiceReconfigurationFailed struct {
	base
	NodeHost string
	Err      error
}

func (ServiceReconfigurationFailed) Topic() string { return TopicReconcile }

// NewCoreCreated, NewBucketOpenInitiated, ... construct events stamped with
// the given timestamp. Callers pass their own clock reading rather than
// letting the event type call time.Now(), keeping event construction
// deterministic for tests.
func NewCoreCreated(now time.Time, instanceID uint64) CoreCreated {
	return CoreCreated{base: newBase(now), InstanceID: instanceID}
}

func NewBucketOpenInitiated(now time.Time, bucket string) BucketOpenInitiated {
	return BucketOpenInitiated{base: newBase(now), Bucket: bucket}
}

func NewBucketOpened(now time.Time, bucket string) BucketOpened {
	return BucketOpened{base: newBase(now), Bucket: bucket}
}

func NewBucketOpenFailed(now time.Time, bucket string, err error, severity string) BucketOpenFailed {
	return BucketOpenFailed{base: newBase(now), Bucket: bucket, Err: err, Severity: severity}
}

func NewBucketClosed(now time.Time, bucket string) BucketClosed {
	return BucketClosed{base: newBase(now), Bucket: bucket}
}

func NewInitGlobalConfigFailed(now time.Time, reason string, err error) InitGlobalConfigFailed {
	return InitGlobalConfigFailed{base: newBase(now), Reason: reason, Err: err}
}

func NewShutdownInitiated(now time.Time) ShutdownInitiated {
	return ShutdownInitiated{base: newBase(now)}
}

func NewShutdownCompleted(now time.Time, timedOut bool) ShutdownCompleted {
	return ShutdownCompleted{base: newBase(now), TimedOut: timedOut}
}

func NewReconfigurationIgnored(now time.Time) ReconfigurationIgnored {
	return ReconfigurationIgnored{base: newBase(now)}
}

func NewReconfigurationCompleted(now time.Time, elapsed time.Duration) ReconfigurationCompleted {
	return ReconfigurationCompleted{base: newBase(now), Elapsed: elapsed}
}

func NewReconfigurationErrorDetected(now time.Time, err error) ReconfigurationErrorDetected {
	return ReconfigurationErrorDetected{base: newBase(now), Err: err}
}

func NewServiceReconfigurationFailed(now time.Time, nodeHost string, err error) ServiceReconfigurationFailed {
	return ServiceReconfigurationFailed{base: newBase(now), NodeHost: nodeHost, Err: err}
}

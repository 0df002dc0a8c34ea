// SPDX-License-Identifier: AGPL-3.0-or-later

// Package core implements the dispatcher's public operations: send,
// open_bucket, init_global_config, shutdown, ensure_service_at, and
// response_metric. Core holds the live node.Set, which the reconciler it
// starts creates and removes nodes in and the locators read, and wires the
// configprovider.Provider, locator.Table, and reconciler.Reconciler
// built by its caller into one supervised unit via internal/supervisor.
//
// Lifecycle management follows a WaitGroup/stopChan-coordinated
// Start/Stop shape, generalized here to the compare-and-set idempotent
// Shutdown the dispatcher's contract requires: Core's Shutdown must
// tolerate concurrent callers and run its teardown exactly once.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/configprovider"
	"github.com/tomtom215/couchkit/internal/events"
	"github.com/tomtom215/couchkit/internal/locator"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/metrics"
	"github.com/tomtom215/couchkit/internal/node"
	"github.com/tomtom215/couchkit/internal/reconciler"
	"github.com/tomtom215/couchkit/internal/request"
	"github.com/tomtom215/couchkit/internal/supervisor"
)

// based is satisfied by *request.Request itself and, by promotion, by
// any operation-specific type that embeds it (kv.Request, and any
// future ViewRequest/AnalyticsRequest). It lets Send and ResponseMetric
// accept the polymorphic request type the rest of the dispatcher uses
// without core importing each operation-specific request package.
type based interface {
	Base() *request.Request
}

func baseOf(req any) *request.Request {
	if b, ok := req.(based); ok {
		return b.Base()
	}
	if r, ok := req.(*request.Request); ok {
		return r
	}
	return nil
}

// Core is the dispatch engine's top-level handle: one per connected
// cluster. Construct with New, register it to run with Serve, and call
// Shutdown exactly once (idempotent if called more than once) to tear
// it down.
type Core struct {
	cc       *request.CoreContext
	locators *locator.Table
	nodes    *node.Set
	provider configprovider.Provider
	bus      events.Bus
	tree     *supervisor.SupervisorTree

	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	openBucketsMu sync.Mutex
	openBuckets   map[string]struct{}

	recordersMu sync.Mutex
	recorders   map[string]*metrics.ResponseRecorder

	hooksMu    sync.Mutex
	beforeSend []func(req any)
}

// New assembles a Core from its already-constructed dependencies and
// registers the reconciler (and, if provider supports it, the config
// stream) with tree. useAlternate selects alternate-address topology
// entries when present, matching the reconciler's own flag.
func New(
	cc *request.CoreContext,
	locators *locator.Table,
	nodes *node.Set,
	provider configprovider.Provider,
	bus events.Bus,
	tree *supervisor.SupervisorTree,
	useAlternate bool,
) *Core {
	c := &Core{
		cc:          cc,
		locators:    locators,
		nodes:       nodes,
		provider:    provider,
		bus:         bus,
		tree:        tree,
		openBuckets: make(map[string]struct{}),
		recorders:   make(map[string]*metrics.ResponseRecorder),
	}

	useTLS := cc.Env.TLS != nil
	rec := reconciler.New(nodes, provider.Configs(), bus, useAlternate, useTLS)
	tree.AddReconcileService(rec)

	if svc, ok := provider.(suture.Service); ok {
		tree.AddConfigService(svc)
	}

	c.publish(context.Background(), events.NewCoreCreated(time.Now(), uint64(cc.InstanceID)))
	return c
}

// Serve runs the supervisor tree (config stream, reconciler, and any
// ops services registered on it) until ctx is cancelled.
func (c *Core) Serve(ctx context.Context) error {
	return c.tree.Serve(ctx)
}

// Send dispatches req without blocking the caller. If registerForTimeout
// is true, the request's timer is scheduled on the environment's
// TimerQueue before dispatch and every registered before-send hook runs
// first — callers pass false when redispatching a request that is
// already registered (a retry). Send never raises to the caller: a
// dispatch-time failure either retries per the request's own strategy
// or cancels the request, reporting the failure through its sink.
func (c *Core) Send(req any, registerForTimeout bool) {
	base := baseOf(req)
	if base == nil {
		logging.Error().Str("type", fmt.Sprintf("%T", req)).Msg("core: Send given a value with no embedded Request")
		return
	}

	if c.shuttingDown.Load() {
		base.Cancel(clienterr.CancelReasonShutdown)
		return
	}

	if registerForTimeout {
		if base.Retry != nil {
			base.Retry.Reset()
		}
		c.cc.Env.Timers.Schedule(base)
		for _, fn := range c.snapshotBeforeSend() {
			fn(req)
		}
	}

	l, err := c.locators.For(base.ServiceType)
	if err != nil {
		logging.Error().Err(err).Stringer("service", base.ServiceType).Msg("core: no locator registered for service type")
		base.Cancel(clienterr.CancelReasonUnknown)
		return
	}

	cfg := c.provider.Config()
	nodes := c.nodes.Snapshot()
	if err := l.Dispatch(c.cc, req, nodes, cfg); err != nil {
		metrics.DispatchRequestsTotal.WithLabelValues(base.ServiceType.String(), "cancelled").Inc()
		logging.Debug().Err(err).Stringer("service", base.ServiceType).Msg("core: dispatch failed")
		base.Cancel(clienterr.CancelReasonUnknown)
		return
	}
	metrics.DispatchRequestsTotal.WithLabelValues(base.ServiceType.String(), "dispatched").Inc()
}

// AddBeforeSendHook registers fn to run, in registration order, just
// before every Send call that schedules a new timeout (i.e. every
// first dispatch, not retries). Used by instrumentation that needs to
// observe a request before it leaves the process.
func (c *Core) AddBeforeSendHook(fn func(req any)) {
	c.hooksMu.Lock()
	c.beforeSend = append(c.beforeSend, fn)
	c.hooksMu.Unlock()
}

func (c *Core) snapshotBeforeSend() []func(req any) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	out := make([]func(req any), len(c.beforeSend))
	copy(out, c.beforeSend)
	return out
}

// OpenBucket begins tracking name's per-bucket configuration. Publishes
// BucketOpenInitiated immediately, then either BucketOpened or
// BucketOpenFailed once the provider responds.
func (c *Core) OpenBucket(ctx context.Context, name string) error {
	c.publish(ctx, events.NewBucketOpenInitiated(time.Now(), name))

	if err := c.provider.OpenBucket(ctx, name); err != nil {
		severity := "warn"
		if c.shuttingDown.Load() {
			severity = "debug"
		}
		c.publish(ctx, events.NewBucketOpenFailed(time.Now(), name, err, severity))
		return err
	}

	c.openBucketsMu.Lock()
	c.openBuckets[name] = struct{}{}
	c.openBucketsMu.Unlock()

	c.publish(ctx, events.NewBucketOpened(time.Now(), name))
	return nil
}

// CloseBucket stops tracking name and publishes BucketClosed on success.
func (c *Core) CloseBucket(ctx context.Context, name string) error {
	if err := c.provider.CloseBucket(ctx, name); err != nil {
		return err
	}
	c.openBucketsMu.Lock()
	delete(c.openBuckets, name)
	c.openBucketsMu.Unlock()

	c.publish(ctx, events.NewBucketClosed(time.Now(), name))
	return nil
}

// InitGlobalConfig fetches the cluster-wide configuration needed before
// any bucket is open. It never raises to the caller: a failure is
// classified and published as InitGlobalConfigFailed instead, matching
// the dispatcher's "send never throws" posture for this bootstrap path.
func (c *Core) InitGlobalConfig(ctx context.Context) {
	if err := c.provider.LoadAndRefreshGlobalConfig(ctx); err != nil {
		cause := clienterr.ClassifyGlobalConfigFailure(err)
		c.publish(ctx, events.NewInitGlobalConfigFailed(time.Now(), cause.String(), err))
	}
}

// EnsureServiceAt finds or creates the node identified by id and enables
// svcType on it at host:port (bucket-scoped if bucket is non-empty). It
// is a no-op once the core has begun shutting down. info carries the
// topology-reported connection details to register alongside a newly
// created node; an existing node's info is left untouched.
func (c *Core) EnsureServiceAt(id clustertopo.NodeIdentifier, info clustertopo.NodeInfo, svcType clustertopo.ServiceType, host string, port uint16, bucket string) {
	if c.shuttingDown.Load() {
		return
	}
	n, _ := c.nodes.GetOrCreate(id, info)
	n.AddService(fmt.Sprintf("%s:%d", host, port), svcType, bucket)
}

// ResponseMetric returns the duration recorder for (service type of
// req, nodeHostPort, operation), creating and caching it on first use.
// Keyed the way the dispatcher's response_metric contract specifies:
// by service type, the host:port a request last dispatched to, and the
// request's own name, so a node replacement or service rename doesn't
// silently reuse a stale recorder.
func (c *Core) ResponseMetric(req any, nodeHostPort, operation string) *metrics.ResponseRecorder {
	service := "unknown"
	if base := baseOf(req); base != nil {
		service = base.ServiceType.String()
	}

	key := service + "|" + nodeHostPort + "|" + operation

	c.recordersMu.Lock()
	defer c.recordersMu.Unlock()
	if rec, ok := c.recorders[key]; ok {
		return rec
	}
	rec := metrics.NewResponseRecorder(service, nodeHostPort, operation)
	c.recorders[key] = rec
	return rec
}

// Shutdown tears the core down: idempotent under concurrent callers (a
// second call observes the first's in-flight work and returns once it
// completes, without republishing events). It closes every open bucket,
// shuts down the configuration provider, then waits up to timeout for
// the live node set to drain — the reconciler's own disconnect-all pass
// drives that drain once the provider stops emitting configs.
func (c *Core) Shutdown(ctx context.Context, timeout time.Duration) error {
	var err error
	c.shutdownOnce.Do(func() {
		c.shuttingDown.Store(true)
		err = c.teardown(ctx, timeout)
	})
	return err
}

// teardown is Shutdown's body; it runs once, inside shutdownOnce, so
// concurrent Shutdown callers block in Do until it returns.
func (c *Core) teardown(ctx context.Context, timeout time.Duration) error {
	c.publish(ctx, events.NewShutdownInitiated(time.Now()))

	c.openBucketsMu.Lock()
	names := make([]string, 0, len(c.openBuckets))
	for name := range c.openBuckets {
		names = append(names, name)
	}
	c.openBucketsMu.Unlock()

	for _, name := range names {
		if err := c.CloseBucket(ctx, name); err != nil {
			logging.Warn().Err(err).Str("bucket", name).Msg("core: failed to close bucket during shutdown")
		}
	}

	if err := c.provider.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("core: configuration provider shutdown failed")
	}

	timedOut := c.waitForEmptyNodeSet(ctx, timeout)
	c.publish(ctx, events.NewShutdownCompleted(time.Now(), timedOut))
	if timedOut {
		return fmt.Errorf("core: shutdown did not converge within %s", timeout)
	}
	return nil
}

func (c *Core) waitForEmptyNodeSet(ctx context.Context, timeout time.Duration) bool {
	if c.nodes.Len() == 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.nodes.Len() == 0 {
				return false
			}
		case <-deadline.C:
			return true
		case <-ctx.Done():
			return true
		}
	}
}

func (c *Core) publish(ctx context.Context, ev events.Event) {
	if err := c.bus.Publish(ctx, ev); err != nil {
		logging.Debug().Err(err).Str("topic", ev.Topic()).Msg("core: event publish failed")
	}
}

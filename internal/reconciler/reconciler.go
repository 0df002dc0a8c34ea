// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconciler implements the topology reconciliation loop: consuming
// a hot stream of ClusterConfig snapshots and converging the live Node set
// and each node's enabled services toward the latest one, idempotently and
// without concurrent reconciliation runs.
//
// Serialization is a two-flag atomic coalescing scheme (in_progress/
// pending) rather than a lock, so a burst of configs arriving while a
// reconciliation is underway never queues more than one rerun: the loop
// always observes the most recent config once it catches up.
package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/events"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/node"
)

// Reconciler drives the live node.Set toward the latest ClusterConfig
// observed on its input stream.
type Reconciler struct {
	nodes   *node.Set
	configs <-chan *clustertopo.ClusterConfig
	bus     events.Bus

	useAlternate bool
	useTLS       bool

	inProgress atomic.Bool
	pending    atomic.Bool
	latest     atomic.Pointer[clustertopo.ClusterConfig]
}

// New returns a Reconciler that consumes configs and reconciles nodes
// against each snapshot, publishing lifecycle events on bus.
// useAlternate selects alternate addressing when a node advertises it;
// useTLS selects each node's TLS service ports over its plaintext ones,
// except for nodes reached through their alternate address, whose single
// port map is used either way.
func New(nodes *node.Set, configs <-chan *clustertopo.ClusterConfig, bus events.Bus, useAlternate, useTLS bool) *Reconciler {
	return &Reconciler{
		nodes:        nodes,
		configs:      configs,
		bus:          bus,
		useAlternate: useAlternate,
		useTLS:       useTLS,
	}
}

// Serve implements suture.Service: consumes configs until ctx is cancelled.
func (r *Reconciler) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-r.configs:
			if !ok {
				return nil
			}
			if cfg == nil {
				continue
			}
			r.onConfig(ctx, cfg)
		}
	}
}

// onConfig records cfg as the latest snapshot and attempts to enter a
// reconciliation pass, coalescing into the pending flag if one is already
// running.
func (r *Reconciler) onConfig(ctx context.Context, cfg *clustertopo.ClusterConfig) {
	r.latest.Store(cfg)

	if !r.inProgress.CompareAndSwap(false, true) {
		r.pending.Store(true)
		r.publish(ctx, events.NewReconfigurationIgnored(time.Now()))
		return
	}
	go r.runPasses(ctx)
}

// runPasses repeatedly reconciles against the latest stored config,
// re-entering once more whenever a config arrived while the previous pass
// was running, until no rerun was coalesced.
func (r *Reconciler) runPasses(ctx context.Context) {
	for {
		cfg := r.latest.Load()
		start := time.Now()
		err := r.reconcileOnce(ctx, cfg)
		elapsed := time.Since(start)

		if err != nil {
			r.publish(ctx, events.NewReconfigurationErrorDetected(time.Now(), err))
		} else {
			r.publish(ctx, events.NewReconfigurationCompleted(time.Now(), elapsed))
		}

		r.inProgress.Store(false)
		if !r.pending.CompareAndSwap(true, false) {
			return
		}
		if !r.inProgress.CompareAndSwap(false, true) {
			// Another onConfig call won the race to re-enter; it owns the
			// next pass.
			return
		}
	}
}

// reconcileOnce runs the three reconciliation steps against cfg.
func (r *Reconciler) reconcileOnce(ctx context.Context, cfg *clustertopo.ClusterConfig) error {
	if cfg.IsEmpty() {
		r.nodes.Clear()
		return nil
	}

	seen := make(map[clustertopo.NodeIdentifier]bool)

	for bucketName, bucket := range cfg.Buckets {
		for _, info := range bucket.Nodes() {
			seen[info.ID] = true
			r.reconcileNodeServices(ctx, info, bucketName, true)
		}
	}

	if cfg.Global != nil {
		for _, info := range cfg.Global.PortInfos() {
			seen[info.ID] = true
			r.reconcileNodeServices(ctx, info, "", false)
		}
	}

	for id, n := range r.nodes.Snapshot() {
		if !seen[id] || !n.HasServicesEnabled() {
			r.nodes.Remove(id)
		}
	}

	return nil
}

// reconcileNodeServices ensures n's effective service map (chosen per
// alternate addressing / TLS settings) is mirrored on the live Node for
// info.ID, enabling services present in the map and removing ones that
// fell out of it. bucketScoped controls whether added/removed services
// carry the bucket name.
func (r *Reconciler) reconcileNodeServices(ctx context.Context, info clustertopo.NodeInfo, bucket string, bucketScoped bool) {
	host, ports := info.EffectiveHostAndPorts(r.useAlternate, r.useTLS)
	n, _ := r.nodes.GetOrCreate(info.ID, info)
	n.UpdateInfo(info)

	svcBucket := ""
	if bucketScoped {
		svcBucket = bucket
	}

	for _, svcType := range clustertopo.AllServiceTypes {
		port, enabled := ports[svcType]
		if !enabled {
			n.RemoveService(svcType, svcBucket)
			continue
		}
		if err := r.ensureService(n, host, port, svcType, svcBucket); err != nil {
			r.publish(ctx, events.NewServiceReconfigurationFailed(time.Now(), info.ID.Host, err))
		}
	}
}

// ensureService enables (host, svcType, bucket) on n. Kept as its own
// fallible step (rather than inlining node.AddService directly) because a
// real endpoint attachment can fail even though registering the Service
// object cannot; per-service failures here are swallowed by the caller
// into a ServiceReconfigurationFailed event so one bad node never blocks
// the rest of the pass.
func (r *Reconciler) ensureService(n *node.Node, host string, port uint16, svcType clustertopo.ServiceType, bucket string) error {
	if host == "" {
		return fmt.Errorf("reconciler: empty host for service %s", svcType)
	}
	n.AddService(fmt.Sprintf("%s:%d", host, port), svcType, bucket)
	return nil
}

func (r *Reconciler) publish(ctx context.Context, ev events.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		logging.Warn().Err(err).Str("topic", ev.Topic()).Msg("failed to publish reconciler event")
	}
}

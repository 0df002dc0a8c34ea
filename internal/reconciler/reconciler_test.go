// SPDX-License-Identifier: AGPL-3.0-or-later

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/events"
	"github.com/tomtom215/couchkit/internal/node"
)

func nodeInfo(host string, port uint16) clustertopo.NodeInfo {
	id := clustertopo.NodeIdentifier{Host: host, ManagerPort: port}
	return clustertopo.NodeInfo{
		ID:       id,
		Hostname: host,
		Ports: map[clustertopo.ServiceType]uint16{
			clustertopo.ServiceKeyValue: port + 1,
		},
	}
}

func TestReconcileOnceAddsNodeAndService(t *testing.T) {
	nodes := node.NewSet()
	r := New(nodes, nil, nil, false, false)

	cfg := &clustertopo.ClusterConfig{
		Buckets: map[string]clustertopo.BucketConfig{
			"travel-sample": {
				BucketName:  "travel-sample",
				BucketNodes: []clustertopo.NodeInfo{nodeInfo("10.0.0.1", 8091)},
			},
		},
	}

	if err := r.reconcileOnce(context.Background(), cfg); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}

	if nodes.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", nodes.Len())
	}
	id := clustertopo.NodeIdentifier{Host: "10.0.0.1", ManagerPort: 8091}
	n, ok := nodes.Get(id)
	if !ok {
		t.Fatal("expected node to be registered")
	}
	if !n.ServiceEnabled(clustertopo.ServiceKeyValue, "travel-sample") {
		t.Error("expected kv service enabled for travel-sample")
	}
}

func TestReconcileOnceDisconnectsAllOnEmptyConfig(t *testing.T) {
	nodes := node.NewSet()
	r := New(nodes, nil, nil, false, false)
	ctx := context.Background()

	first := &clustertopo.ClusterConfig{
		Buckets: map[string]clustertopo.BucketConfig{
			"b": {BucketName: "b", BucketNodes: []clustertopo.NodeInfo{nodeInfo("10.0.0.1", 8091)}},
		},
	}
	if err := r.reconcileOnce(ctx, first); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}

	// Second config drops the bucket entirely, and has no global config —
	// disconnect-all territory.
	empty := &clustertopo.ClusterConfig{}
	if err := r.reconcileOnce(ctx, empty); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}

	if nodes.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after disconnect-all", nodes.Len())
	}
}

func TestReconcileOnceDropsNodeMissingFromEveryConfig(t *testing.T) {
	nodes := node.NewSet()
	r := New(nodes, nil, nil, false, false)
	ctx := context.Background()

	withBoth := &clustertopo.ClusterConfig{
		Buckets: map[string]clustertopo.BucketConfig{
			"b": {BucketName: "b", BucketNodes: []clustertopo.NodeInfo{
				nodeInfo("10.0.0.1", 8091),
				nodeInfo("10.0.0.2", 8091),
			}},
		},
	}
	if err := r.reconcileOnce(ctx, withBoth); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}
	if nodes.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", nodes.Len())
	}

	withOne := &clustertopo.ClusterConfig{
		Buckets: map[string]clustertopo.BucketConfig{
			"b": {BucketName: "b", BucketNodes: []clustertopo.NodeInfo{nodeInfo("10.0.0.1", 8091)}},
		},
	}
	if err := r.reconcileOnce(ctx, withOne); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}
	if nodes.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after node 2 dropped out of the config", nodes.Len())
	}
	if _, ok := nodes.Get(clustertopo.NodeIdentifier{Host: "10.0.0.2", ManagerPort: 8091}); ok {
		t.Error("expected node 2 to be removed")
	}
}

func TestReconcileOnceGlobalConfigServiceNotBucketScoped(t *testing.T) {
	nodes := node.NewSet()
	r := New(nodes, nil, nil, false, false)

	info := nodeInfo("10.0.0.9", 8091)
	cfg := &clustertopo.ClusterConfig{
		Global: &clustertopo.GlobalConfig{GlobalNodes: []clustertopo.NodeInfo{info}},
	}
	if err := r.reconcileOnce(context.Background(), cfg); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}

	n, ok := nodes.Get(info.ID)
	if !ok {
		t.Fatal("expected node registered from global config")
	}
	if !n.ServiceEnabled(clustertopo.ServiceKeyValue, "") {
		t.Error("expected global-config service to carry no bucket")
	}
}

func TestOnConfigCoalescesBurstIntoPending(t *testing.T) {
	nodes := node.NewSet()
	r := New(nodes, nil, nil, false, false)

	// Simulate a reconciliation already in flight.
	r.inProgress.Store(true)

	r.onConfig(context.Background(), &clustertopo.ClusterConfig{})

	if !r.pending.Load() {
		t.Error("expected onConfig to set pending when a pass is already in progress")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	nodes := node.NewSet()
	ch := make(chan *clustertopo.ClusterConfig)
	r := New(nodes, ch, events.NewBus(), false, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Serve to return promptly after ctx cancellation")
	}
}

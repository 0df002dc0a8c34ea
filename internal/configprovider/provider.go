// SPDX-License-Identifier: AGPL-3.0-or-later

// Package configprovider implements the external interface the core
// consumes to learn about cluster topology: a hot, restartable stream of
// ClusterConfig snapshots, synchronous access to the latest one, and
// bucket open/close and global-config refresh operations. StaticProvider
// serves a config loaded once from a file; WebSocketProvider streams
// live pushes from a management endpoint; SnapshotCache persists the
// last-known-good snapshot so Config() answers instantly even before the
// first live fetch completes.
package configprovider

import (
	"context"

	"github.com/tomtom215/couchkit/internal/clustertopo"
)

// Provider is the configuration-provider contract the core's dispatcher
// and topology reconciler depend on.
type Provider interface {
	// Configs returns the hot, restartable stream of ClusterConfig
	// snapshots. The channel is never closed by a provider implementation
	// on its own; it stops emitting once Shutdown completes.
	Configs() <-chan *clustertopo.ClusterConfig
	// Config returns the latest snapshot synchronously, or nil if none
	// has been received yet and no cached snapshot is available.
	Config() *clustertopo.ClusterConfig
	// OpenBucket begins fetching a per-bucket config; completion is
	// reflected in a subsequent Configs emission or a returned error.
	OpenBucket(ctx context.Context, name string) error
	// CloseBucket stops tracking name and drops it from future snapshots.
	CloseBucket(ctx context.Context, name string) error
	// LoadAndRefreshGlobalConfig fetches the cluster-wide (non-bucket)
	// config once, used to bootstrap before any bucket is open.
	LoadAndRefreshGlobalConfig(ctx context.Context) error
	// Shutdown stops emitting configs and releases the provider's
	// resources. After Shutdown returns, Configs emits nothing further.
	Shutdown(ctx context.Context) error
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package configprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
)

// StaticProvider serves a fixed catalog of bucket configs known up front
// (e.g. loaded once from a file at startup), activating only the buckets
// that have been opened via OpenBucket. It never receives live pushes —
// useful for a single-node dev setup or a test double for the reconciler.
type StaticProvider struct {
	mu     sync.Mutex
	known  map[string]clustertopo.BucketConfig
	global *clustertopo.GlobalConfig
	active map[string]bool

	ch      chan *clustertopo.ClusterConfig
	current *clustertopo.ClusterConfig
}

// NewStaticProvider returns a provider whose known bucket catalog is
// `known`; global is the cluster-wide config available without opening
// any bucket.
func NewStaticProvider(known map[string]clustertopo.BucketConfig, global *clustertopo.GlobalConfig) *StaticProvider {
	return &StaticProvider{
		known:  known,
		global: global,
		active: make(map[string]bool),
		ch:     make(chan *clustertopo.ClusterConfig, 1),
	}
}

// staticFile is the on-disk shape LoadStaticProviderFromFile expects: a
// plain JSON encoding of the same catalog NewStaticProvider takes.
type staticFile struct {
	Buckets map[string]clustertopo.BucketConfig `json:"buckets"`
	Global  *clustertopo.GlobalConfig           `json:"global"`
}

// LoadStaticProviderFromFile reads a JSON-encoded bucket catalog from
// path. Kept on stdlib encoding/json rather than goccy/go-json (used
// elsewhere in this module, e.g. SnapshotCache and the chunked response
// decoder): this path runs once at startup, not per-request, so there is
// no hot-path throughput to gain from the swap.
func LoadStaticProviderFromFile(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configprovider: read %s: %w", path, err)
	}
	var sf staticFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("configprovider: parse %s: %w", path, err)
	}
	return NewStaticProvider(sf.Buckets, sf.Global), nil
}

// Configs implements Provider.
func (p *StaticProvider) Configs() <-chan *clustertopo.ClusterConfig { return p.ch }

// Config implements Provider.
func (p *StaticProvider) Config() *clustertopo.ClusterConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// OpenBucket implements Provider. Unknown bucket names fail synchronously
// with clienterr.ErrInvalidArgument since a static catalog has nothing
// further to fetch.
func (p *StaticProvider) OpenBucket(_ context.Context, name string) error {
	p.mu.Lock()
	_, ok := p.known[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: unknown bucket %q", clienterr.ErrInvalidArgument, name)
	}
	p.active[name] = true
	p.mu.Unlock()
	p.publish()
	return nil
}

// CloseBucket implements Provider.
func (p *StaticProvider) CloseBucket(_ context.Context, name string) error {
	p.mu.Lock()
	delete(p.active, name)
	p.mu.Unlock()
	p.publish()
	return nil
}

// LoadAndRefreshGlobalConfig implements Provider. The global config is
// already known statically; this just (re-)publishes the current
// snapshot so a caller waiting on Configs observes it.
func (p *StaticProvider) LoadAndRefreshGlobalConfig(_ context.Context) error {
	p.mu.Lock()
	hasGlobal := p.global != nil
	p.mu.Unlock()
	if !hasGlobal {
		return clienterr.ErrGlobalConfigNotFound
	}
	p.publish()
	return nil
}

// Shutdown implements Provider. A no-op beyond satisfying the interface:
// a static provider holds no live connection to release.
func (p *StaticProvider) Shutdown(context.Context) error { return nil }

// publish rebuilds the ClusterConfig snapshot from the currently active
// buckets plus the global config, and pushes it onto the hot channel.
// The channel is single-slot and "latest value wins": an unread snapshot
// is drained before the new one is sent, matching the "hot — the latest
// value is always current" contract rather than queuing history.
func (p *StaticProvider) publish() {
	p.mu.Lock()
	buckets := make(map[string]clustertopo.BucketConfig, len(p.active))
	for name := range p.active {
		buckets[name] = p.known[name]
	}
	snapshot := &clustertopo.ClusterConfig{Buckets: buckets, Global: p.global}
	p.current = snapshot
	p.mu.Unlock()

	select {
	case <-p.ch:
	default:
	}
	p.ch <- snapshot
}

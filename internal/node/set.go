// SPDX-License-Identifier: AGPL-3.0-or-later

package node

import (
	"sync"

	"github.com/tomtom215/couchkit/internal/clustertopo"

	"github.com/tomtom215/couchkit/internal/metrics"
)

// Set is the Core's copy-on-write registry of live Nodes. Readers
// (locators, on the hot dispatch path) call Snapshot and iterate a plain
// map with no locking; writers (the reconciler) replace the whole map
// under mu. The Core exclusively owns nodes: Set is the single place
// nodes are created, found, and removed.
type Set struct {
	mu    sync.Mutex
	nodes map[clustertopo.NodeIdentifier]*Node
}

// NewSet returns an empty node set.
func NewSet() *Set {
	return &Set{nodes: make(map[clustertopo.NodeIdentifier]*Node)}
}

// Snapshot returns the current node set. The returned map must not be
// mutated; callers needing a fresh view should call Snapshot again.
func (s *Set) Snapshot() map[clustertopo.NodeIdentifier]*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes
}

// Get returns the node for id, if present.
func (s *Set) Get(id clustertopo.NodeIdentifier) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// GetOrCreate returns the existing node for id, or creates, registers, and
// returns a new one. The bool result reports whether a node was created.
func (s *Set) GetOrCreate(id clustertopo.NodeIdentifier, info clustertopo.NodeInfo) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		return n, false
	}

	next := copyNodes(s.nodes)
	n := New(id, info)
	next[id] = n
	s.nodes = next
	s.publishSize()
	return n, true
}

// Remove disconnects and drops the node for id, if present.
func (s *Set) Remove(id clustertopo.NodeIdentifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Disconnect()

	next := copyNodes(s.nodes)
	delete(next, id)
	s.nodes = next
	s.publishSize()
}

// Len reports the number of live nodes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Clear disconnects and removes every node, used for the reconciler's
// disconnect-all path when a config carries no buckets and no global
// config.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Disconnect()
	}
	s.nodes = make(map[clustertopo.NodeIdentifier]*Node)
	s.publishSize()
}

// publishSize updates the live-node gauge. Called with mu held.
func (s *Set) publishSize() {
	metrics.LiveNodes.Set(float64(len(s.nodes)))
}

func copyNodes(m map[clustertopo.NodeIdentifier]*Node) map[clustertopo.NodeIdentifier]*Node {
	next := make(map[clustertopo.NodeIdentifier]*Node, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}

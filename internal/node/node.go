// SPDX-License-Identifier: AGPL-3.0-or-later

// Package node implements the live node and service registry: Node owns a
// set of enabled Service instances, and Set is the Core's copy-on-write
// registry of live Nodes. The registry is a mutex-guarded map with
// add/remove/broadcast-shaped methods, the same client-registry pattern a
// websocket hub uses, generalized here from one external API to an
// arbitrary number of per-node, per-service-type, per-bucket circuit
// breakers.
package node

import (
	"sync"

	"github.com/tomtom215/couchkit/internal/clustertopo"
)

type serviceKey struct {
	svcType clustertopo.ServiceType
	bucket  string
}

// Node is a live object keyed by NodeIdentifier, owning the set of
// services currently enabled on it.
type Node struct {
	id   clustertopo.NodeIdentifier
	info clustertopo.NodeInfo

	mu       sync.RWMutex
	services map[serviceKey]*Service
}

// New constructs a Node with no services enabled.
func New(id clustertopo.NodeIdentifier, info clustertopo.NodeInfo) *Node {
	return &Node{
		id:       id,
		info:     info,
		services: make(map[serviceKey]*Service),
	}
}

// ID returns the node's identifier.
func (n *Node) ID() clustertopo.NodeIdentifier { return n.id }

// Info returns the node's topology-reported connection info.
func (n *Node) Info() clustertopo.NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.info
}

// UpdateInfo replaces the node's cached topology info, e.g. when a config
// push changes alternate addresses without changing the node's identity.
func (n *Node) UpdateInfo(info clustertopo.NodeInfo) {
	n.mu.Lock()
	n.info = info
	n.mu.Unlock()
}

// AddService enables a service of the given type (and bucket, if
// bucket-scoped) on host, returning the existing Service if one was
// already enabled for that key. Idempotent: reconciliation calls this on
// every pass regardless of whether the service already exists.
func (n *Node) AddService(host string, svcType clustertopo.ServiceType, bucket string) *Service {
	key := serviceKey{svcType: svcType, bucket: bucket}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.services[key]; ok {
		return existing
	}
	svc := newService(host, svcType, bucket)
	n.services[key] = svc
	return svc
}

// RemoveService disables and disconnects the service for (type, bucket),
// reporting whether one was present.
func (n *Node) RemoveService(svcType clustertopo.ServiceType, bucket string) bool {
	key := serviceKey{svcType: svcType, bucket: bucket}

	n.mu.Lock()
	defer n.mu.Unlock()

	svc, ok := n.services[key]
	if !ok {
		return false
	}
	svc.disconnect()
	delete(n.services, key)
	return true
}

// ServiceEnabled reports whether (type, bucket) is currently enabled.
func (n *Node) ServiceEnabled(svcType clustertopo.ServiceType, bucket string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.services[serviceKey{svcType: svcType, bucket: bucket}]
	return ok
}

// Service returns the Service for (type, bucket), if enabled.
func (n *Node) Service(svcType clustertopo.ServiceType, bucket string) (*Service, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	svc, ok := n.services[serviceKey{svcType: svcType, bucket: bucket}]
	return svc, ok
}

// ServiceState returns the observable state of (type, bucket), if enabled.
func (n *Node) ServiceState(svcType clustertopo.ServiceType, bucket string) (State, bool) {
	svc, ok := n.Service(svcType, bucket)
	if !ok {
		return Disconnected, false
	}
	return svc.State(), true
}

// HasServicesEnabled reports whether this node has any service enabled,
// used by the reconciler to decide whether a node should be dropped from
// the live set.
func (n *Node) HasServicesEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.services) > 0
}

// Services returns a snapshot of the currently enabled services.
func (n *Node) Services() []*Service {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Service, 0, len(n.services))
	for _, svc := range n.services {
		out = append(out, svc)
	}
	return out
}

// Disconnect tears down every enabled service on this node.
func (n *Node) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, svc := range n.services {
		svc.disconnect()
		delete(n.services, key)
	}
}

// Diagnostics summarizes this node's state for the read-only ops surface.
type Diagnostics struct {
	Host     string           `json:"host"`
	Services []ServiceSummary `json:"services"`
}

// ServiceSummary is one entry in Diagnostics.Services.
type ServiceSummary struct {
	Type   string `json:"type"`
	Bucket string `json:"bucket,omitempty"`
	State  string `json:"state"`
}

// Diagnostics reports this node's current service states.
func (n *Node) Diagnostics() Diagnostics {
	n.mu.RLock()
	defer n.mu.RUnlock()

	summaries := make([]ServiceSummary, 0, len(n.services))
	for key, svc := range n.services {
		summaries = append(summaries, ServiceSummary{
			Type:   key.svcType.String(),
			Bucket: key.bucket,
			State:  svc.State().String(),
		})
	}
	return Diagnostics{Host: n.id.Host, Services: summaries}
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clustertopo holds the pure value types describing a cluster
// topology snapshot: buckets, the optional global (cluster-wide) config,
// and per-node service port maps. Values here are immutable once built —
// a ClusterConfig is replaced wholesale, never mutated in place.
package clustertopo

// ServiceType enumerates the service types a node may expose.
type ServiceType int

const (
	ServiceUnknown ServiceType = iota
	ServiceKeyValue
	ServiceQuery
	ServiceSearch
	ServiceView
	ServiceAnalytics
	ServiceManagement
)

func (s ServiceType) String() string {
	switch s {
	case ServiceKeyValue:
		return "kv"
	case ServiceQuery:
		return "query"
	case ServiceSearch:
		return "search"
	case ServiceView:
		return "view"
	case ServiceAnalytics:
		return "analytics"
	case ServiceManagement:
		return "mgmt"
	default:
		return "unknown"
	}
}

// BucketScoped reports whether a service of this type is addressed per
// bucket (kv, view) or cluster-wide (query, search, analytics, mgmt).
func (s ServiceType) BucketScoped() bool {
	return s == ServiceKeyValue || s == ServiceView
}

// AllServiceTypes lists every recognized service type, used by the
// reconciler to decide which services to remove when a node's effective
// service map stops advertising them.
var AllServiceTypes = []ServiceType{
	ServiceKeyValue,
	ServiceQuery,
	ServiceSearch,
	ServiceView,
	ServiceAnalytics,
	ServiceManagement,
}

// NodeIdentifier canonically identifies a server in the cluster by its
// management host and port — stable across topology changes even if
// per-service ports or hostnames (via alternate addressing) differ.
type NodeIdentifier struct {
	Host       string
	ManagerPort uint16
}

// AlternateAddress carries the network-visible hostname and per-service
// port map for a node, as seen from outside the cluster's own network
// (e.g. through NAT or a different network segment).
type AlternateAddress struct {
	Hostname string
	Ports    map[ServiceType]uint16
}

// NodeInfo describes one node's presence within a bucket or global config:
// its identity, default hostname, the per-service port map for the
// cluster's own network, and an optional alternate-address entry.
type NodeInfo struct {
	ID        NodeIdentifier
	Hostname  string
	Ports     map[ServiceType]uint16
	SSLPorts  map[ServiceType]uint16
	Alternate *AlternateAddress
}

// EffectiveHostAndPorts returns the hostname and service port map this node
// should be reconciled against, choosing alternate addressing when
// requested and available, and otherwise TLS ports when useTLS is set.
// An alternate address carries a single port map, which is returned
// whatever useTLS is.
func (n NodeInfo) EffectiveHostAndPorts(useAlternate, useTLS bool) (string, map[ServiceType]uint16) {
	if useAlternate && n.Alternate != nil {
		return n.Alternate.Hostname, n.Alternate.Ports
	}
	if useTLS {
		return n.Hostname, n.SSLPorts
	}
	return n.Hostname, n.Ports
}

// BucketConfig is a snapshot of one bucket's topology: its name, the
// nodes that host it, and (for key-value) the partition-to-node map.
type BucketConfig struct {
	BucketName  string
	BucketNodes []NodeInfo
	VBuckets    *VBucketMap
}

func (b BucketConfig) Name() string { return b.BucketName }

func (b BucketConfig) Nodes() []NodeInfo { return b.BucketNodes }

// VBucketMap is the partition (vbucket) ownership table for a bucket:
// for each partition index, ServerIndices[0] is the active (master)
// node's index into BucketConfig.BucketNodes, and any remaining entries
// are replicas in priority order. A negative index means the partition
// has no owner yet (rebalance in progress).
type VBucketMap struct {
	ServerIndices [][]int
}

// NumPartitions reports how many vbuckets this map covers.
func (m *VBucketMap) NumPartitions() int {
	if m == nil {
		return 0
	}
	return len(m.ServerIndices)
}

// ActiveNodeIndex returns the master node index for partition, or false if
// the map doesn't cover that partition or has no owner assigned.
func (m *VBucketMap) ActiveNodeIndex(partition int) (int, bool) {
	if m == nil || partition < 0 || partition >= len(m.ServerIndices) {
		return 0, false
	}
	row := m.ServerIndices[partition]
	if len(row) == 0 || row[0] < 0 {
		return 0, false
	}
	return row[0], true
}

// GlobalConfig is the cluster-wide (not bucket-scoped) portion of a
// topology snapshot — the nodes hosting cluster-wide services like query,
// search, and analytics.
type GlobalConfig struct {
	GlobalNodes []NodeInfo
}

func (g GlobalConfig) PortInfos() []NodeInfo { return g.GlobalNodes }

// ClusterConfig is an immutable topology snapshot: a map of bucket name to
// BucketConfig, plus an optional GlobalConfig. Replacement is atomic — the
// configuration provider hands out a new *ClusterConfig rather than
// mutating one in place.
type ClusterConfig struct {
	Buckets map[string]BucketConfig
	Global  *GlobalConfig
}

// IsEmpty reports whether the snapshot has no buckets and no global config,
// the trigger for the reconciler's disconnect-all mode.
func (c *ClusterConfig) IsEmpty() bool {
	return c == nil || (len(c.Buckets) == 0 && c.Global == nil)
}

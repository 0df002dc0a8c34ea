// SPDX-License-Identifier: AGPL-3.0-or-later

package clustertopo

import "testing"

func TestClusterConfigIsEmpty(t *testing.T) {
	var nilCfg *ClusterConfig
	if !nilCfg.IsEmpty() {
		t.Error("nil config should be empty")
	}

	empty := &ClusterConfig{}
	if !empty.IsEmpty() {
		t.Error("zero-value config should be empty")
	}

	withBucket := &ClusterConfig{Buckets: map[string]BucketConfig{"default": {}}}
	if withBucket.IsEmpty() {
		t.Error("config with a bucket should not be empty")
	}

	withGlobal := &ClusterConfig{Global: &GlobalConfig{}}
	if withGlobal.IsEmpty() {
		t.Error("config with a global config should not be empty")
	}
}

func TestServiceTypeBucketScoped(t *testing.T) {
	if !ServiceKeyValue.BucketScoped() {
		t.Error("kv should be bucket-scoped")
	}
	if !ServiceView.BucketScoped() {
		t.Error("view should be bucket-scoped")
	}
	if ServiceQuery.BucketScoped() {
		t.Error("query should not be bucket-scoped")
	}
	if ServiceAnalytics.BucketScoped() {
		t.Error("analytics should not be bucket-scoped")
	}
}

func TestNodeInfoEffectiveHostAndPorts(t *testing.T) {
	n := NodeInfo{
		Hostname: "node1.internal",
		Ports:    map[ServiceType]uint16{ServiceKeyValue: 11210},
		SSLPorts: map[ServiceType]uint16{ServiceKeyValue: 11207},
		Alternate: &AlternateAddress{
			Hostname: "node1.external",
			Ports:    map[ServiceType]uint16{ServiceKeyValue: 31210},
		},
	}

	host, ports := n.EffectiveHostAndPorts(false, false)
	if host != "node1.internal" || ports[ServiceKeyValue] != 11210 {
		t.Errorf("plain: got host=%s port=%d", host, ports[ServiceKeyValue])
	}

	host, ports = n.EffectiveHostAndPorts(false, true)
	if host != "node1.internal" || ports[ServiceKeyValue] != 11207 {
		t.Errorf("tls: got host=%s port=%d", host, ports[ServiceKeyValue])
	}

	host, ports = n.EffectiveHostAndPorts(true, false)
	if host != "node1.external" || ports[ServiceKeyValue] != 31210 {
		t.Errorf("alternate: got host=%s port=%d", host, ports[ServiceKeyValue])
	}
}

func TestVBucketMapActiveNodeIndex(t *testing.T) {
	m := &VBucketMap{ServerIndices: [][]int{{1, 2}, {0, 2}, {-1, 0}}}

	if got := m.NumPartitions(); got != 3 {
		t.Errorf("NumPartitions() = %d, want 3", got)
	}

	if idx, ok := m.ActiveNodeIndex(0); !ok || idx != 1 {
		t.Errorf("ActiveNodeIndex(0) = (%d, %v), want (1, true)", idx, ok)
	}
	if _, ok := m.ActiveNodeIndex(2); ok {
		t.Error("ActiveNodeIndex(2) should report no owner for a -1 entry")
	}
	if _, ok := m.ActiveNodeIndex(99); ok {
		t.Error("ActiveNodeIndex should report false for an out-of-range partition")
	}

	var nilMap *VBucketMap
	if got := nilMap.NumPartitions(); got != 0 {
		t.Errorf("nil map NumPartitions() = %d, want 0", got)
	}
	if _, ok := nilMap.ActiveNodeIndex(0); ok {
		t.Error("nil map ActiveNodeIndex should report false")
	}
}

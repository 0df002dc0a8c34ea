// SPDX-License-Identifier: AGPL-3.0-or-later

package node

import (
	"testing"

	"github.com/tomtom215/couchkit/internal/clustertopo"
)

func TestNodeAddServiceIsIdempotent(t *testing.T) {
	n := New(clustertopo.NodeIdentifier{Host: "10.0.0.1"}, clustertopo.NodeInfo{})

	first := n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "travel-sample")
	second := n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "travel-sample")

	if first != second {
		t.Error("AddService should return the existing Service on repeat calls")
	}
	if !n.ServiceEnabled(clustertopo.ServiceKeyValue, "travel-sample") {
		t.Error("expected the KV service to be enabled")
	}
}

func TestNodeRemoveService(t *testing.T) {
	n := New(clustertopo.NodeIdentifier{Host: "10.0.0.1"}, clustertopo.NodeInfo{})
	n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "travel-sample")

	if !n.RemoveService(clustertopo.ServiceKeyValue, "travel-sample") {
		t.Fatal("expected RemoveService to report the service was present")
	}
	if n.ServiceEnabled(clustertopo.ServiceKeyValue, "travel-sample") {
		t.Error("service should no longer be enabled after removal")
	}
	if n.RemoveService(clustertopo.ServiceKeyValue, "travel-sample") {
		t.Error("removing an already-removed service should report false")
	}
}

func TestNodeHasServicesEnabled(t *testing.T) {
	n := New(clustertopo.NodeIdentifier{Host: "10.0.0.1"}, clustertopo.NodeInfo{})
	if n.HasServicesEnabled() {
		t.Error("freshly constructed node should have no services enabled")
	}

	n.AddService("10.0.0.1:8091", clustertopo.ServiceQuery, "")
	if !n.HasServicesEnabled() {
		t.Error("expected HasServicesEnabled to be true after AddService")
	}

	n.RemoveService(clustertopo.ServiceQuery, "")
	if n.HasServicesEnabled() {
		t.Error("expected HasServicesEnabled to be false after removing the only service")
	}
}

func TestNodeDisconnectClearsAllServices(t *testing.T) {
	n := New(clustertopo.NodeIdentifier{Host: "10.0.0.1"}, clustertopo.NodeInfo{})
	n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "travel-sample")
	n.AddService("10.0.0.1:8091", clustertopo.ServiceQuery, "")

	n.Disconnect()

	if n.HasServicesEnabled() {
		t.Error("expected no services enabled after Disconnect")
	}
}

func TestNodeDiagnostics(t *testing.T) {
	n := New(clustertopo.NodeIdentifier{Host: "10.0.0.1"}, clustertopo.NodeInfo{})
	n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "travel-sample")

	diag := n.Diagnostics()
	if diag.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want 10.0.0.1", diag.Host)
	}
	if len(diag.Services) != 1 || diag.Services[0].Bucket != "travel-sample" {
		t.Errorf("Services = %+v, want one entry for travel-sample", diag.Services)
	}
}

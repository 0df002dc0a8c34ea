// SPDX-License-Identifier: AGPL-3.0-or-later

package locator

import (
	"fmt"
	"sync/atomic"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/node"
	"github.com/tomtom215/couchkit/internal/request"
)

// NodeFilter reports whether node n is eligible to receive a dispatch
// from a RoundRobinLocator. ViewLocator and AnalyticsLocator are plain
// RoundRobinLocators with the default "service enabled" filter rather
// than separate implementations.
type NodeFilter func(n *node.Node, bucket string) bool

// ServiceEnabledFilter is the default NodeFilter: the node must have
// svcType enabled for the given bucket (empty bucket for non-bucket-
// scoped services).
func ServiceEnabledFilter(svcType clustertopo.ServiceType) NodeFilter {
	return func(n *node.Node, bucket string) bool {
		return n.ServiceEnabled(svcType, bucket)
	}
}

// RoundRobinLocator cycles through the nodes currently exposing svcType,
// advancing an atomic cursor on every dispatch. Used directly for query,
// search, and management, and by ViewLocator and AnalyticsLocator, where
// bucket scoping (views) or the service type (analytics) does the
// narrowing.
type RoundRobinLocator struct {
	svcType clustertopo.ServiceType
	filter  NodeFilter
	cursor  atomic.Uint64
}

// NewRoundRobinLocator returns a RoundRobinLocator that dispatches to any
// live node with svcType enabled.
func NewRoundRobinLocator(svcType clustertopo.ServiceType) *RoundRobinLocator {
	return NewFilteredRoundRobinLocator(svcType, ServiceEnabledFilter(svcType))
}

// NewFilteredRoundRobinLocator returns a RoundRobinLocator restricted to
// nodes passing filter, in addition to having svcType enabled.
func NewFilteredRoundRobinLocator(svcType clustertopo.ServiceType, filter NodeFilter) *RoundRobinLocator {
	return &RoundRobinLocator{svcType: svcType, filter: filter}
}

// Dispatch implements Locator. req must be a *request.Request (or embed
// one accessibly via requestOf); bucket scoping, if any, comes from the
// embedding type via bucketOf.
func (l *RoundRobinLocator) Dispatch(cc *request.CoreContext, req any, nodes Snapshot, cfg *clustertopo.ClusterConfig) error {
	base, ok := requestOf(req)
	if !ok {
		return fmt.Errorf("%w: round-robin locator received %T", clienterr.ErrInvalidArgument, req)
	}
	bucket := bucketOf(req)

	redispatch := func() { _ = l.Dispatch(cc, req, nodes, cfg) }

	candidates := l.eligibleNodes(nodes, bucket)
	if len(candidates) == 0 {
		if retryOrGiveUp(cc, base, clienterr.ErrNoNodeForService, redispatch) {
			return nil
		}
		return clienterr.ErrNoNodeForService
	}

	idx := l.cursor.Add(1) % uint64(len(candidates))
	target := candidates[idx]

	svc, ok := target.Service(l.svcType, bucket)
	if !ok {
		if retryOrGiveUp(cc, base, clienterr.ErrNoNodeForService, redispatch) {
			return nil
		}
		return clienterr.ErrNoNodeForService
	}

	if !base.MarkDispatched() {
		return nil
	}
	return svc.Send(req)
}

func (l *RoundRobinLocator) eligibleNodes(nodes Snapshot, bucket string) []*node.Node {
	candidates := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ServiceEnabled(l.svcType, bucket) && l.filter(n, bucket) {
			candidates = append(candidates, n)
		}
	}
	return candidates
}

// requestOf extracts the embedded *request.Request from req, which may be
// a bare *request.Request or any type embedding one (e.g. a future
// ViewRequest/AnalyticsRequest/QueryRequest).
func requestOf(req any) (*request.Request, bool) {
	switch r := req.(type) {
	case *request.Request:
		return r, true
	case interface{ Base() *request.Request }:
		return r.Base(), true
	default:
		return nil, false
	}
}

// bucketOf extracts a request's bucket scope, if it carries one (views
// are bucket-scoped; query/search/analytics/management are not).
func bucketOf(req any) string {
	if b, ok := req.(interface{ BucketScope() string }); ok {
		return b.BucketScope()
	}
	return ""
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package locator implements per-service-type request routing: mapping a
// request onto a (node, service) pair. KeyValueLocator hashes the
// request's key into a partition and follows the bucket's vbucket map;
// RoundRobinLocator and its View/Analytics specializations cycle through
// whichever nodes currently expose the matching service.
package locator

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/node"
	"github.com/tomtom215/couchkit/internal/request"
)

// Snapshot is the live node set a Locator dispatches against — the same
// map node.Set.Snapshot returns, passed through rather than re-exported
// to avoid a needless alias of a generic map type.
type Snapshot = map[clustertopo.NodeIdentifier]*node.Node

// Locator routes one request onto a (node, service) pair and hands it
// to that service. req is typed any rather than *request.Request because
// concrete locators need the operation-specific subtype (KeyValueLocator
// needs *kv.Request's key and partition); each implementation type-asserts
// to the request kind it understands and fails fast on a mismatch, the
// same tagged-variant-over-a-common-base shape the rest of the request
// hierarchy uses.
type Locator interface {
	Dispatch(cc *request.CoreContext, req any, nodes Snapshot, cfg *clustertopo.ClusterConfig) error
}

// Table is the static service-type -> Locator dispatch table. Built once
// at Core construction time; an unregistered service type is a
// programming error, not a runtime failure mode.
type Table struct {
	locators map[clustertopo.ServiceType]Locator
}

// NewTable builds a Table from svcType -> Locator pairs.
func NewTable(entries map[clustertopo.ServiceType]Locator) *Table {
	t := &Table{locators: make(map[clustertopo.ServiceType]Locator, len(entries))}
	for k, v := range entries {
		t.locators[k] = v
	}
	return t
}

// For returns the locator registered for svcType.
func (t *Table) For(svcType clustertopo.ServiceType) (Locator, error) {
	l, ok := t.locators[svcType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clienterr.ErrUnknownServiceType, svcType)
	}
	return l, nil
}

// DefaultTable wires the standard locator set: KeyValueLocator for kv,
// ViewLocator for view, AnalyticsLocator for analytics, and a plain
// RoundRobinLocator for query, search, and management.
func DefaultTable() *Table {
	return NewTable(map[clustertopo.ServiceType]Locator{
		clustertopo.ServiceKeyValue:   NewKeyValueLocator(),
		clustertopo.ServiceView:       NewViewLocator(),
		clustertopo.ServiceAnalytics:  NewAnalyticsLocator(),
		clustertopo.ServiceQuery:      NewRoundRobinLocator(clustertopo.ServiceQuery),
		clustertopo.ServiceSearch:     NewRoundRobinLocator(clustertopo.ServiceSearch),
		clustertopo.ServiceManagement: NewRoundRobinLocator(clustertopo.ServiceManagement),
	})
}

// retryOrGiveUp consults r's retry strategy on a dispatch-time failure
// (no node, service disabled, bucket config absent). If the strategy
// permits another attempt, it schedules redispatch on the CoreContext's
// Scheduler after the returned delay and reports handled=true — the
// caller must not also treat this as a terminal failure. If the
// strategy declines, handled is false and the caller decides how to
// fail the request (typically cancelling it).
func retryOrGiveUp(cc *request.CoreContext, r *request.Request, cause error, redispatch func()) (handled bool) {
	delay, ok := r.Retry.Next(cause)
	if !ok {
		return false
	}
	cc.Env.Scheduler.Go(func(ctx context.Context) error {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			redispatch()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return true
}

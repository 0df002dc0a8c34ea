// SPDX-License-Identifier: AGPL-3.0-or-later

package locator

import "github.com/tomtom215/couchkit/internal/clustertopo"

// NewViewLocator returns a RoundRobinLocator scoped to the view service.
// View requests are bucket-scoped (via BucketScope), so the underlying
// Node.Service lookup already enforces "the node must host this bucket's
// view service" — no additional filter is needed beyond the default.
func NewViewLocator() *RoundRobinLocator {
	return NewRoundRobinLocator(clustertopo.ServiceView)
}

// NewAnalyticsLocator returns a RoundRobinLocator scoped to the analytics
// service. Analytics is cluster-wide (not bucket-scoped), so candidates
// are simply every node with the analytics service enabled.
func NewAnalyticsLocator() *RoundRobinLocator {
	return NewRoundRobinLocator(clustertopo.ServiceAnalytics)
}

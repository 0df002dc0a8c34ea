// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !nats

package events

import "errors"

// NATSBusConfig configures the optional cross-process event bus. Fields
// are accepted but unused in non-nats builds so callers don't need a
// build-tag switch of their own.
type NATSBusConfig struct {
	URL           string
	SubjectPrefix string
	QueueGroup    string
}

// NewNATSBus is a stub for builds without the "nats" tag. Build with
// -tags nats to enable the cross-process event bus.
func NewNATSBus(_ NATSBusConfig) (Bus, error) {
	return nil, errors.New("events: NATS bus not compiled (build with -tags nats)")
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/core"
	"github.com/tomtom215/couchkit/internal/kv"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/request"
)

// runDemoDispatch periodically opens a bucket and sends one best-effort
// KV get through c, logging the dispatch outcome. It exists to exercise
// the dispatcher end to end — locator lookup, node-set lookup, retry or
// cancellation — the same way an integration smoke test would, without
// this probe needing to decode a real wire response.
func runDemoDispatch(ctx context.Context, c *core.Core, bucket string, interval time.Duration) {
	if bucket == "" {
		logging.Info().Msg("couchkit-probe: no bucket configured, skipping demo dispatch loop")
		return
	}

	if err := c.OpenBucket(ctx, bucket); err != nil {
		logging.Warn().Err(err).Str("bucket", bucket).Msg("couchkit-probe: open bucket failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendDemoGet(c, bucket)
		}
	}
}

func sendDemoGet(c *core.Core, bucket string) {
	req := kv.New(
		2500*time.Millisecond,
		request.NewBackoffStrategy(request.RetryConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      1.5,
			MaxElapsedTime:  2 * time.Second,
		}),
		"couchkit-probe-heartbeat",
		kv.CollectionIdentifier{Bucket: bucket},
		nil,
	)

	req.OnCancel(func(reason clienterr.CancellationReason) {
		logging.Debug().
			Str("opaque", req.OpaqueHex()).
			Stringer("reason", reason).
			Msg("couchkit-probe: demo get cancelled")
	})

	c.Send(req, true)
}

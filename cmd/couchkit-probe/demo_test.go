// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"testing"
	"time"
)

func TestRunDemoDispatchReturnsImmediatelyWithNoBucket(t *testing.T) {
	done := make(chan struct{})
	go func() {
		runDemoDispatch(context.Background(), nil, "", time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runDemoDispatch did not return promptly when no bucket is configured")
	}
}

// SPDX-License-Identifier: AGPL-3.0-or-later

package configprovider

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/couchkit/internal/clustertopo"
)

func TestWebSocketProviderConfigFallsBackToCache(t *testing.T) {
	cache, err := OpenSnapshotCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSnapshotCache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	want := &clustertopo.ClusterConfig{
		Buckets: map[string]clustertopo.BucketConfig{"travel-sample": {BucketName: "travel-sample"}},
	}
	if err := cache.Store(want); err != nil {
		t.Fatalf("Store: %v", err)
	}

	p := NewWebSocketProvider("ws://example.invalid/config", cache)
	got := p.Config()
	if got == nil {
		t.Fatal("expected Config to fall back to the cached snapshot")
	}
	if _, ok := got.Buckets["travel-sample"]; !ok {
		t.Error("cached snapshot missing expected bucket")
	}
}

func TestWebSocketProviderConfigNilWithoutCacheOrPush(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/config", nil)
	if got := p.Config(); got != nil {
		t.Errorf("Config() = %v, want nil", got)
	}
}

func TestWebSocketProviderPublishLatestDropsStaleValue(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/config", nil)

	first := &clustertopo.ClusterConfig{Buckets: map[string]clustertopo.BucketConfig{"a": {BucketName: "a"}}}
	second := &clustertopo.ClusterConfig{Buckets: map[string]clustertopo.BucketConfig{"b": {BucketName: "b"}}}

	p.publishLatest(first)
	p.publishLatest(second)

	got := <-p.Configs()
	if _, ok := got.Buckets["b"]; !ok {
		t.Error("expected the hot channel to hold only the latest published snapshot")
	}
	select {
	case <-p.Configs():
		t.Error("expected only one snapshot to be queued")
	default:
	}
}

func TestWebSocketProviderOpenBucketTracksActiveSet(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/config", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.OpenBucket(ctx, "travel-sample"); err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}

	select {
	case name := <-p.openCh:
		if name != "travel-sample" {
			t.Errorf("openCh got %q, want travel-sample", name)
		}
	default:
		t.Fatal("expected OpenBucket to signal openCh")
	}

	p.mu.Lock()
	active := p.active["travel-sample"]
	p.mu.Unlock()
	if !active {
		t.Error("expected travel-sample recorded in the active set")
	}
}

func TestWebSocketProviderCloseBucketClearsActiveSet(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/config", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = p.OpenBucket(ctx, "travel-sample")
	<-p.openCh

	if err := p.CloseBucket(ctx, "travel-sample"); err != nil {
		t.Fatalf("CloseBucket: %v", err)
	}
	<-p.closeCh

	p.mu.Lock()
	_, active := p.active["travel-sample"]
	p.mu.Unlock()
	if active {
		t.Error("expected travel-sample removed from the active set")
	}
}

func TestReconnectLimitBlocksUntilCancelled(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/ws", nil)
	_ = p.reconnectLimit.Reserve() // consume the initial burst token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.reconnectLimit.Wait(ctx); err == nil {
		t.Error("expected Wait to report an error for an already-cancelled context")
	}
}

func TestReconnectLimitAllowsFirstAttemptImmediately(t *testing.T) {
	p := NewWebSocketProvider("ws://example.invalid/ws", nil)

	if err := p.reconnectLimit.Wait(context.Background()); err != nil {
		t.Errorf("expected the initial burst token to be available, got %v", err)
	}
}

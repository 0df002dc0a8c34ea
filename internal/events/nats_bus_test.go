// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build nats

package events

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// startEmbeddedNATS runs an in-process NATS server on a free port for the
// duration of the test, the same way a client integration test would spin
// up a throwaway broker rather than depending on one already running.
func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("start embedded nats server: %v", err)
	}

	srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server did not become ready")
	}
	t.Cleanup(srv.Shutdown)

	return fmt.Sprintf("nats://127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port)
}

func TestNATSBusPublishSubscribe(t *testing.T) {
	url := startEmbeddedNATS(t)

	bus, err := NewNATSBus(NATSBusConfig{URL: url, SubjectPrefix: "couchkit-test"})
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer bus.Close()

	received := make(chan Event, 1)
	unsubscribe, err := bus.Subscribe(context.Background(), TopicBucket, func(ev Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	// JetStream subscriptions need a moment to establish before a publish
	// is guaranteed to be delivered.
	time.Sleep(200 * time.Millisecond)

	if err := bus.Publish(context.Background(), NewBucketOpened(time.Now(), "travel-sample")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		opened, ok := got.(BucketOpened)
		if !ok {
			t.Fatalf("got %T, want BucketOpened", got)
		}
		if opened.Bucket != "travel-sample" {
			t.Errorf("got bucket %q, want travel-sample", opened.Bucket)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event over nats")
	}
}

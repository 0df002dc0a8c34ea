// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"testing"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
)

func TestNewRequestStartsPending(t *testing.T) {
	r := New(clustertopo.ServiceKeyValue, time.Second, NoRetry{}, nil)

	if r.State() != Pending {
		t.Errorf("State() = %v, want Pending", r.State())
	}
	if r.Partition != -1 {
		t.Errorf("Partition = %d, want -1 before locator binds it", r.Partition)
	}
	if r.Opaque == 0 {
		t.Error("expected a nonzero opaque id")
	}
}

func TestRequestLifecycleTransitions(t *testing.T) {
	r := New(clustertopo.ServiceKeyValue, time.Second, NoRetry{}, nil)

	if !r.MarkDispatched() {
		t.Fatal("expected MarkDispatched to succeed from Pending")
	}
	if r.MarkDispatched() {
		t.Error("MarkDispatched should fail once already Dispatched")
	}
	if !r.MarkCompleted() {
		t.Fatal("expected MarkCompleted to succeed from Dispatched")
	}
	if r.MarkCompleted() {
		t.Error("MarkCompleted should be a no-op once terminal")
	}
	if r.MarkCancelled() {
		t.Error("MarkCancelled should fail once already Completed")
	}
}

func TestRequestCancelInvokesCallback(t *testing.T) {
	r := New(clustertopo.ServiceQuery, time.Second, NoRetry{}, nil)

	var got clienterr.CancellationReason
	called := false
	r.OnCancel(func(reason clienterr.CancellationReason) {
		called = true
		got = reason
	})

	r.Cancel(clienterr.CancelReasonTimeout)

	if !called {
		t.Fatal("expected the cancel callback to fire")
	}
	if got != clienterr.CancelReasonTimeout {
		t.Errorf("reason = %v, want CancelReasonTimeout", got)
	}
	if r.State() != Cancelled {
		t.Errorf("State() = %v, want Cancelled", r.State())
	}

	// A second cancel must not re-invoke the callback.
	called = false
	r.Cancel(clienterr.CancelReasonShutdown)
	if called {
		t.Error("cancel callback should not fire once already terminal")
	}
}

func TestOpaqueIDFormatting(t *testing.T) {
	if got := OpaqueID(255); got != "0xff" {
		t.Errorf("OpaqueID(255) = %q, want 0xff", got)
	}
	if got := OpaqueID(-1); got != "0xffffffff" {
		t.Errorf("OpaqueID(-1) = %q, want 0xffffffff", got)
	}
}

func TestSinkDeliversExactlyOnce(t *testing.T) {
	s := NewSink[int]()

	s.Succeed(42)
	s.Fail(clienterr.ErrInvalidArgument) // ignored: sink already completed

	v, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait() err = %v, want nil", err)
	}
	if v != 42 {
		t.Errorf("Wait() value = %d, want 42", v)
	}
}

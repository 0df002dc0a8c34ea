// SPDX-License-Identifier: AGPL-3.0-or-later

// Package request implements the polymorphic Request base type, its
// opaque-id allocation, the deadline-ordered timeout registry, and the
// default best-effort RetryStrategy. internal/kv builds KeyValueRequest on
// top of Request rather than duplicating its lifecycle machinery.
package request

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
)

// State is a Request's lifecycle stage. Completion (Completed or
// Cancelled) is terminal.
type State int32

const (
	Pending State = iota
	Dispatched
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatched:
		return "dispatched"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// opaqueCounter backs Request opaque ids: a process-wide atomic counter
// that wraps to negative on overflow. Uniqueness is only guaranteed
// best-effort within a connection's lifetime.
var opaqueCounter atomic.Int32

func nextOpaque() int32 {
	return opaqueCounter.Add(1)
}

// OpaqueID formats a Request's opaque id as "0x" + hex, per the wire
// convention used for correlating in-flight requests in logs.
func OpaqueID(v int32) string {
	return fmt.Sprintf("0x%x", uint32(v))
}

// Sink is the single-shot completion channel a Request reports through.
// Exactly one of Succeed or Fail is ever called; subsequent calls are
// no-ops — completion is terminal.
type Sink[T any] struct {
	once sync.Once
	ch   chan result[T]
}

type result[T any] struct {
	value T
	err   error
}

// NewSink returns a ready-to-use completion sink with a one-slot buffer so
// Succeed/Fail never blocks on a caller that hasn't started waiting yet.
func NewSink[T any]() *Sink[T] {
	return &Sink[T]{ch: make(chan result[T], 1)}
}

// Succeed delivers a successful response. Ignored if the sink already
// completed.
func (s *Sink[T]) Succeed(v T) {
	s.once.Do(func() { s.ch <- result[T]{value: v} })
}

// Fail delivers a terminal error, including cancellation. Ignored if the
// sink already completed.
func (s *Sink[T]) Fail(err error) {
	s.once.Do(func() { s.ch <- result[T]{err: err} })
}

// Wait blocks until the sink completes.
func (s *Sink[T]) Wait() (T, error) {
	r := <-s.ch
	return r.value, r.err
}

// Request is the polymorphic base every operation-specific request type
// (KeyValueRequest, ViewRequest, ...) embeds.
type Request struct {
	ServiceType clustertopo.ServiceType
	Timeout     time.Duration
	Retry       Strategy
	Opaque      int32
	Span        Span

	mu       sync.Mutex
	state    State
	cancelFn func(clienterr.CancellationReason)

	Partition int16 // set by KeyValueLocator before dispatch; -1 until bound
}

// Span is a minimal tracing handle; nil is a valid no-op span.
type Span interface {
	End()
}

// New builds a Request in state Pending with a freshly allocated opaque id.
func New(svcType clustertopo.ServiceType, timeout time.Duration, retry Strategy, span Span) *Request {
	return &Request{
		ServiceType: svcType,
		Timeout:     timeout,
		Retry:       retry,
		Opaque:      nextOpaque(),
		Span:        span,
		state:       Pending,
		Partition:   -1,
	}
}

// State returns the request's current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkDispatched transitions Pending -> Dispatched. A no-op if the request
// already completed (finished racing its own timeout, for instance).
func (r *Request) MarkDispatched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Pending {
		return false
	}
	r.state = Dispatched
	return true
}

// MarkCompleted transitions into the terminal Completed state. Returns
// false if the request was already terminal.
func (r *Request) MarkCompleted() bool {
	return r.terminal(Completed)
}

// MarkCancelled transitions into the terminal Cancelled state. Returns
// false if the request was already terminal.
func (r *Request) MarkCancelled() bool {
	return r.terminal(Cancelled)
}

func (r *Request) terminal(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Completed || r.state == Cancelled {
		return false
	}
	r.state = to
	if r.Span != nil {
		r.Span.End()
	}
	return true
}

// OnCancel registers the callback the timeout registry and shutdown path
// invoke to actually cancel this request's sink. Core/kv wire this to the
// concrete Sink.Fail(&clienterr.RequestCancelledError{...}) call, since
// Request itself doesn't know its response type.
func (r *Request) OnCancel(fn func(clienterr.CancellationReason)) {
	r.mu.Lock()
	r.cancelFn = fn
	r.mu.Unlock()
}

// Cancel marks the request Cancelled and invokes its registered cancel
// callback, if any and if the request hadn't already completed.
func (r *Request) Cancel(reason clienterr.CancellationReason) {
	if !r.MarkCancelled() {
		return
	}
	r.mu.Lock()
	fn := r.cancelFn
	r.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// OpaqueHex returns this request's opaque id formatted as the wire expects.
func (r *Request) OpaqueHex() string { return OpaqueID(r.Opaque) }

// Base returns r itself, satisfying the core package's based interface.
// Any operation-specific type that embeds *Request gets this method by
// promotion, so core.Send and core.ResponseMetric can accept the
// polymorphic request type without importing each concrete subtype.
func (r *Request) Base() *Request { return r }

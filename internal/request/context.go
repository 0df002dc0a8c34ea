// SPDX-License-Identifier: AGPL-3.0-or-later

package request

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/couchkit/internal/events"
)

// InstanceID identifies one runtime instance for log correlation: the
// upper 32 bits are a process-wide random value, the lower 32 bits a
// monotonic counter, so two instances started in the same process (as
// in tests) still never collide.
type InstanceID uint64

func (id InstanceID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

var instanceCounter atomic.Uint32

// instanceUpper is drawn once per process and shared by every InstanceID.
var instanceUpper = uint64(rand.Uint32())

// NewInstanceID allocates a fresh InstanceID.
func NewInstanceID() InstanceID {
	upper := instanceUpper
	lower := uint64(instanceCounter.Add(1))
	return InstanceID(upper<<32 | lower)
}

// Authenticator supplies per-request credentials. Its shape is
// deliberately minimal: the core only needs enough to decide whether a
// connection attempt may proceed and to hand the wire layer something
// to send. Concrete adapters (e.g. RBAC username/password, or a
// token-based scheme) live outside this package.
type Authenticator interface {
	// Credentials returns the identity to present for host, or an error
	// if none can be produced (e.g. a certificate-based authenticator
	// asked for a plaintext connection).
	Credentials(ctx context.Context, host string) (username, password string, err error)
	// SupportsTLS reports whether this authenticator can be paired with
	// a TLS-enabled environment; used for the construction-time
	// TLS/authenticator compatibility check.
	SupportsTLS() bool
}

// Scheduler runs orchestration work (a locator's delayed redispatch of a
// retried request) off the caller's goroutine. It wraps
// golang.org/x/sync/errgroup, promoting the module's existing indirect
// dependency on x/sync to direct use as the environment's shared
// executor, rather than hand-rolling a worker pool.
type Scheduler struct {
	ctx context.Context
}

// NewScheduler binds a Scheduler to ctx; Go launches group members and
// propagates the first member's error (if any) to Wait.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{ctx: ctx}
}

// Go runs fn in a new goroutine as part of a fresh errgroup, returning a
// Wait function for the caller to block on completion.
func (s *Scheduler) Go(fn func(ctx context.Context) error) func() error {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return fn(ctx) })
	return g.Wait
}

// GoAll runs every fn concurrently in one errgroup, returning the first
// non-nil error (if any), after all have completed.
func (s *Scheduler) GoAll(fns ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(s.ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}
	return g.Wait()
}

// Environment bundles the shared runtime facilities a CoreContext
// exposes to every component: the deadline timer queue, the event bus,
// the orchestration scheduler, and TLS configuration. There is no
// separate "meter" handle — internal/metrics' promauto vars are
// process-global, so components reach them directly rather than through
// the environment.
type Environment struct {
	Timers    *TimerQueue
	Events    events.Bus
	Scheduler *Scheduler
	TLS       *tls.Config // nil when TLS is disabled
}

// CoreContext is the immutable handle passed to every dispatch-path
// component: locators, the reconciler, services. It is constructed once
// at Core startup and never mutated; concurrent access needs no lock.
type CoreContext struct {
	InstanceID    InstanceID
	Env           Environment
	Authenticator Authenticator
}

// NewCoreContext validates the TLS/authenticator pairing and returns a
// ready CoreContext. An authenticator that cannot be used over TLS (or
// that requires TLS when none is configured) fails synchronously here
// rather than on first request, matching the construction-time
// validation contract.
func NewCoreContext(env Environment, auth Authenticator) (*CoreContext, error) {
	if env.TLS != nil && !auth.SupportsTLS() {
		return nil, fmt.Errorf("request: authenticator %T does not support TLS", auth)
	}
	return &CoreContext{
		InstanceID:    NewInstanceID(),
		Env:           env,
		Authenticator: auth,
	}, nil
}

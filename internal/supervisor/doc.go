// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package supervisor provides process supervision for the core dispatch
engine's own background loops, using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of the engine's long-running services. It provides Erlang/OTP-style
supervision with automatic restart, failure isolation, and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure isolation:

	RootSupervisor ("couchkit-core")
	├── ConfigSupervisor ("config-layer")
	│   └── ConfigStreamService (consumes the active streaming config provider)
	├── ReconcileSupervisor ("reconcile-layer")
	│   └── ReconcilerService (serialized topology reconciliation loop)
	└── OpsSupervisor ("ops-layer")
	    └── DiagnosticsServerService (read-only HTTP surface)

This hierarchy ensures that:
  - A crash while applying a new topology doesn't interrupt the config stream
  - A flaky streaming transport doesn't take down diagnostics
  - Each layer can restart independently

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - A fixed FailureBackoff delay prevents restart storms
  - Configurable failure thresholds and decay rates

Failure Isolation:
  - Services are organized into logical groups
  - Child supervisor failures don't propagate upward
  - Each layer has independent failure counting

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs service starts, stops, failures, and restarts
  - Event hooks via sutureslog adapter

# Usage Example

Basic setup:

	import (
	    "log/slog"
	    "github.com/tomtom215/couchkit/internal/supervisor"
	)

	func run(reconciler suture.Service, configStream suture.Service, diag suture.Service) error {
	    logger := slog.Default()
	    cfg := supervisor.DefaultTreeConfig()

	    tree, err := supervisor.NewSupervisorTree(logger, cfg)
	    if err != nil {
	        return err
	    }

	    tree.AddReconcileService(reconciler)
	    tree.AddConfigService(configStream)
	    tree.AddOpsService(diag)

	    ctx := context.Background()
	    return tree.Serve(ctx)
	}

Background operation:

	errChan := tree.ServeBackground(ctx)

	// Do other setup...

	if err := <-errChan; err != nil {
	    log.Printf("supervisor stopped: %v", err)
	}

# Configuration

The TreeConfig controls restart behavior:

	cfg := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // Failures before backoff
	    FailureDecay:     30.0,             // Seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // Backoff duration
	    ShutdownTimeout:  10 * time.Second, // Per-service shutdown timeout
	}

Default values match suture's production-ready defaults:
  - FailureThreshold: 5 failures
  - FailureDecay: 30 seconds
  - FailureBackoff: 15 seconds
  - ShutdownTimeout: 10 seconds

# Failure Handling

The supervisor uses a failure counter with exponential decay:

 1. Each service failure increments the counter
 2. Counter decays exponentially over time (FailureDecay seconds)
 3. When counter exceeds FailureThreshold, supervisor enters backoff
 4. During backoff, restarts are delayed by FailureBackoff duration
 5. If failures continue, the child supervisor may be restarted by its parent

Example failure scenarios:

	# Single crash - immediate restart
	Service crashes -> Counter: 1 -> Restart immediately

	# Rapid crashes - backoff triggered
	Service crashes 5x in 10s -> Counter: 5+ -> Wait 15s before restart

	# Isolated failures - counter decays
	Service crashes once, stable for 60s -> Counter: ~0.13 -> Normal restart

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: service stopped cleanly, will not be restarted
  - Return error: service crashed, will be restarted
  - Context canceled: shutdown requested, return promptly

# What Is NOT Supervised

The config-provider's one-shot bootstrap fetch (the initial seed-host round
trip before any topology exists) is not supervised — a failure there is fatal
to bucket open and is returned directly to the caller, since there is no
prior topology to fall back on.

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("service didn't stop: %v", svc)
	}

Common causes:
  - Goroutines not respecting context cancellation
  - Blocked network I/O without deadlines
  - Mutex deadlocks during shutdown

# Thread Safety

The SupervisorTree is safe for concurrent use:
  - Services can be added from any goroutine
  - Remove operations are synchronized
  - Multiple services can crash simultaneously

# See Also

  - github.com/thejerf/suture/v4: underlying supervision library
*/
package supervisor

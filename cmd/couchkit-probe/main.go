// SPDX-License-Identifier: AGPL-3.0-or-later

// Command couchkit-probe wires up a complete dispatch engine against a
// configured cluster and leaves it running: it streams topology, fans
// out a heartbeat KV get on a timer, and exposes the diagnostics HTTP
// surface — a runnable demonstration of internal/core's full assembly.
// Startup is sequenced bottom-up: load config, init logging, build
// dependencies, assemble the supervisor tree, then hand control to
// signal-driven shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/couchkit/internal/bootconfig"
	"github.com/tomtom215/couchkit/internal/configprovider"
	"github.com/tomtom215/couchkit/internal/core"
	"github.com/tomtom215/couchkit/internal/diagnostics"
	"github.com/tomtom215/couchkit/internal/events"
	"github.com/tomtom215/couchkit/internal/locator"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/node"
	"github.com/tomtom215/couchkit/internal/request"
	"github.com/tomtom215/couchkit/internal/supervisor"
)

func main() {
	cfg, err := bootconfig.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("couchkit-probe: failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Strs("seeds", cfg.Seeds).Str("bucket", cfg.Bucket).Msg("couchkit-probe: starting")

	tlsConfig, err := buildTLSConfig(&cfg.TLS)
	if err != nil {
		logging.Fatal().Err(err).Msg("couchkit-probe: failed to build TLS configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := request.Environment{
		Timers:    request.NewTimerQueue(),
		Events:    events.NewBus(),
		Scheduler: request.NewScheduler(ctx),
		TLS:       tlsConfig,
	}

	auth := newJWTAuthenticator("couchkit-probe", jwtSecret())
	cc, err := request.NewCoreContext(env, auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("couchkit-probe: failed to build core context")
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("couchkit-probe: failed to build supervisor tree")
	}

	provider, closeCache := buildConfigProvider(cfg)
	if closeCache != nil {
		defer closeCache()
	}

	nodes := node.NewSet()
	c := core.New(cc, locator.DefaultTable(), nodes, provider, env.Events, tree, false)

	diagCfg := diagnostics.DefaultConfig("127.0.0.1:8093")
	diagCfg.CORSAllowedOrigins = []string{"*"}
	tree.AddOpsService(diagnostics.NewServer(diagCfg, nodes, provider))
	logging.Info().Str("addr", diagCfg.Addr).Msg("couchkit-probe: diagnostics surface registered")

	go runDemoDispatch(ctx, c, cfg.Bucket, 10*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("couchkit-probe: received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("couchkit-probe: starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("couchkit-probe: context cancelled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("couchkit-probe: supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("couchkit-probe: supervisor shutdown error")
		}
	}

	if err := c.Shutdown(context.Background(), 10*time.Second); err != nil {
		logging.Warn().Err(err).Msg("couchkit-probe: core shutdown did not complete cleanly")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("couchkit-probe: services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("couchkit-probe: service failed to stop")
		}
	}

	logging.Info().Msg("couchkit-probe: stopped gracefully")
}

// buildConfigProvider selects the WebSocketProvider, pointed at the
// first configured seed, backed by a badger-persisted last-known-good
// snapshot under the OS temp directory. The returned close func is nil
// if the cache could not be opened — the provider still runs, it just
// can't answer Config() before the first live push.
func buildConfigProvider(cfg *bootconfig.Config) (configprovider.Provider, func()) {
	cache, err := configprovider.OpenSnapshotCache(filepath.Join(os.TempDir(), "couchkit-probe-cache"))
	var closeCache func()
	if err != nil {
		logging.Warn().Err(err).Msg("couchkit-probe: failed to open snapshot cache, continuing without one")
		cache = nil
	} else {
		closeCache = func() {
			if err := cache.Close(); err != nil {
				logging.Warn().Err(err).Msg("couchkit-probe: failed to close snapshot cache")
			}
		}
	}

	url := managementWebSocketURL(cfg.Seeds[0], cfg.TLS.Enabled)
	logging.Info().Str("url", url).Msg("couchkit-probe: streaming topology from management endpoint")
	return configprovider.NewWebSocketProvider(url, cache), closeCache
}

func managementWebSocketURL(seed string, useTLS bool) string {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/couchkit/ws", scheme, seed)
}

// buildTLSConfig returns nil when TLS is disabled, matching Environment.TLS's
// "nil means disabled" contract. Client-certificate and custom-CA loading is
// plain crypto/x509 — there is no ecosystem library in the corpus for
// parsing PEM material more conveniently than the standard library already
// does.
func buildTLSConfig(cfg *bootconfig.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // operator opt-in via config

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// jwtSecret reads the signing secret from the environment, falling back
// to a process-local random value so the probe still runs standalone;
// the fallback is unusable against a real cluster, which is the point —
// production deployments must set COUCHKIT_JWT_SECRET themselves.
func jwtSecret() []byte {
	if s := strings.TrimSpace(os.Getenv("COUCHKIT_JWT_SECRET")); s != "" {
		return []byte(s)
	}
	logging.Warn().Msg("couchkit-probe: COUCHKIT_JWT_SECRET not set, using an ephemeral demo secret")
	return []byte(request.NewInstanceID().String() + request.NewInstanceID().String())
}

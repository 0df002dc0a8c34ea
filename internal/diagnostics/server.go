// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diagnostics exposes a small read-only HTTP surface over the
// core's internal state — live node/service inventory, liveness,
// readiness — for operators and monitoring, never for mutating
// topology. The chi router applies the same middleware stack
// (RequestID, RealIP, Recoverer, go-chi/cors, go-chi/httprate) to a
// route group, and splits liveness from readiness the way a
// Kubernetes-style HealthLive/HealthReady handler pair would.
package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/configprovider"
	"github.com/tomtom215/couchkit/internal/middleware"
	"github.com/tomtom215/couchkit/internal/node"
)

// Config parameterizes Server's HTTP surface.
type Config struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	ShutdownTimeout    time.Duration
}

// DefaultConfig returns a permissive-for-monitoring, closed-for-origins
// default: CORS origins must be set explicitly — an insecure wildcard
// requires opting in.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:               addr,
		CORSAllowedOrigins: []string{},
		RateLimitRequests:  1000,
		RateLimitWindow:    time.Minute,
		ShutdownTimeout:    5 * time.Second,
	}
}

// Server is a suture.Service: Serve runs the HTTP listener until ctx is
// cancelled, then shuts it down gracefully within Config.ShutdownTimeout.
type Server struct {
	cfg     Config
	nodes   *node.Set
	perfMon *middleware.PerformanceMonitor
	httpSrv *http.Server
}

// NewServer builds a diagnostics Server reading from nodes and provider.
// The server never calls any mutating method on either.
func NewServer(cfg Config, nodes *node.Set, provider configprovider.Provider) *Server {
	s := &Server{cfg: cfg, nodes: nodes, perfMon: middleware.NewPerformanceMonitor(1000)}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return middleware.RequestID(next.ServeHTTP)
	})
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))

	r.Get("/livez", middleware.PrometheusMetrics(handleLivez))
	r.Get("/readyz", middleware.PrometheusMetrics(handleReadyz(provider)))
	r.Get("/nodes", withHandler(s.perfMon, middleware.PrometheusMetrics(middleware.Compression(s.handleNodes))))
	r.Get("/perf", withHandler(s.perfMon, middleware.PrometheusMetrics(s.handlePerf)))
	r.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve implements suture.Service: it runs the HTTP listener until ctx
// is cancelled, then performs a graceful shutdown bounded by
// Config.ShutdownTimeout, matching the suture contract that Serve
// return promptly once its context is done.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// nodesResponse is the /nodes payload: one diagnostics entry per live
// node, keyed by the identifier the reconciler registered it under.
type nodesResponse struct {
	Nodes []nodeEntry `json:"nodes"`
}

type nodeEntry struct {
	Identifier string            `json:"identifier"`
	node.Diagnostics
}

// withHandler adapts a middleware.PerformanceMonitor into the chi
// http.HandlerFunc route signature, recording every request it sees.
func withHandler(pm *middleware.PerformanceMonitor, next http.HandlerFunc) http.HandlerFunc {
	wrapped := pm.Middleware(next)
	return wrapped.ServeHTTP
}

// handlePerf godoc
//
//	@Summary		Diagnostics HTTP surface latency percentiles
//	@Description	Returns rolling p50/p95/p99 latency per diagnostics route.
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{array}	middleware.EndpointStats
//	@Router			/perf [get]
func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.perfMon.GetStats())
}

// handleNodes godoc
//
//	@Summary		List live nodes
//	@Description	Returns the current node/service inventory as seen by the dispatcher.
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	nodesResponse
//	@Router			/nodes [get]
func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.nodes.Snapshot()
	resp := nodesResponse{Nodes: make([]nodeEntry, 0, len(snapshot))}
	for id, n := range snapshot {
		resp.Nodes = append(resp.Nodes, nodeEntry{
			Identifier:  nodeIdentifierString(id),
			Diagnostics: n.Diagnostics(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func nodeIdentifierString(id clustertopo.NodeIdentifier) string {
	if id.ManagerPort == 0 {
		return id.Host
	}
	return id.Host + ":" + strconv.Itoa(int(id.ManagerPort))
}

// handleLivez always reports alive once the process is serving HTTP at
// all — a Kubernetes-style liveness probe.
//	@Summary	Liveness probe
//	@Tags		diagnostics
//	@Produce	json
//	@Success	200	{object}	map[string]bool
//	@Router		/livez [get]
func handleLivez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

// handleReadyz reports ready once the configuration provider has served
// at least one snapshot — a 200 only once dependencies are usable.
//	@Summary	Readiness probe
//	@Tags		diagnostics
//	@Produce	json
//	@Success	200	{object}	map[string]bool
//	@Failure	503	{object}	map[string]bool
//	@Router		/readyz [get]
func handleReadyz(provider configprovider.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ready := provider.Config() != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

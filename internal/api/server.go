// Package api serves the HTTP API of the monitor.
//
// Live views are answered from the in-memory buffers; history reaches back
// into the CSV store for days older than the oldest buffered entry.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/logging"
	"github.com/xtxerr/netmon/internal/monitor"
	"github.com/xtxerr/netmon/internal/prober"
	"github.com/xtxerr/netmon/internal/storage"
	"github.com/xtxerr/netmon/internal/telemetry"
)

var log = logging.Component("api")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "127.0.0.1:8000").
	Listen string

	// Targets are listed by /api/targets.
	Targets []prober.Target

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProbeStats reports per-target probe counters.
type ProbeStats interface {
	Stats() []prober.TargetStats
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	monitor *monitor.Monitor
	store   *storage.Store
	network prober.NetworkSource
	probes  ProbeStats
	metrics *telemetry.Metrics
	now     func() time.Time
	started time.Time

	router *mux.Router
	http   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request telemetry and serves /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithProbeStats adds probe counters to /api/targets.
func WithProbeStats(p ProbeStats) Option {
	return func(s *Server) { s.probes = p }
}

// WithClock replaces the clock used to resolve day ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a new server. store may be nil, in which case only memory is
// queried.
func New(cfg Config, mon *monitor.Monitor, store *storage.Store, network prober.NetworkSource, opts ...Option) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}

	s := &Server{
		cfg:     cfg,
		monitor: mon,
		store:   store,
		network: network,
		now:     time.Now,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()

	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  2 * cfg.ReadTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.recoverMiddleware, s.requestIDMiddleware, s.instrumentMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/targets", s.handleTargets).Methods(http.MethodGet)
	api.HandleFunc("/networks", s.handleNetworks).Methods(http.MethodGet)
	api.HandleFunc("/logs/dates", s.handleDates).Methods(http.MethodGet)
	api.HandleFunc("/logs/cleanup", s.handleCleanup).Methods(http.MethodGet)

	api.HandleFunc("/metrics/{target}", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{target}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{target}/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{target}/compare-networks", s.handleCompare).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{target}/csv", s.handleCSV).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	log.Info("listening", "address", ln.Addr().String())

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down")
	s.http.SetKeepAlivesEnabled(false)
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

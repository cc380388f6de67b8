package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// ServerConfig holds configuration for the status server.
type ServerConfig struct {
	Addr string

	// RateLimit is requests per second; RateBurst the bucket size.
	RateLimit float64
	RateBurst int

	ShutdownTimeout time.Duration

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Collector, when set, counts requests and rate-limit rejections.
	Collector *Collector

	// Status serves /status and /dashboard. Both return 503 without it.
	Status StatusSource

	Logger *slog.Logger
}

// Server provides HTTP endpoints for Prometheus metrics, health checks and
// the live status page.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	server          *http.Server
	rateLimiter     *rate.Limiter
	collector       *Collector
	status          StatusSource
	logger          *slog.Logger

	mu       sync.RWMutex
	ready    bool
	listener net.Listener
}

// NewServer creates a new status server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &Server{
		addr:            cfg.Addr,
		shutdownTimeout: timeout,
		rateLimiter:     rate.NewLimiter(limit, burst),
		collector:       cfg.Collector,
		status:          cfg.Status,
		logger:          logger,
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(gatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Health checks skip the rate limiter.
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/readyz", s.readyHandler)

	limited := func(h http.Handler) http.Handler {
		return s.panicRecoveryMiddleware(s.rateLimitMiddleware(h))
	}
	mux.Handle("/metrics", limited(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	mux.Handle("/status", limited(http.HandlerFunc(s.statusHandler)))
	mux.Handle("/dashboard", limited(http.HandlerFunc(s.dashboardHandler)))

	return s.requestIDMiddleware(s.loggingMiddleware(mux))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// healthHandler handles health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "no status source", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.status.Status()); err != nil {
		s.logger.Warn("status_encode_failed", "error", err)
	}
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "no status source", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderDashboard(w, s.status.Status()); err != nil {
		s.logger.Warn("dashboard_render_failed", "error", err)
	}
}

// Start listens on the configured address and serves until ctx is done, in
// which case it shuts down gracefully and returns nil. A listen or serve
// failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error("status_server_listen_failed", "addr", s.addr, "error", err)
		return fmt.Errorf("status server: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("status_server_started", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.setReady(false)
		s.logger.Error("status_server_error", "error", err)
		return fmt.Errorf("status server: %w", err)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.setReady(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	s.logger.Debug("status_server_shutting_down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server: shutdown: %w", err)
	}
	s.logger.Info("status_server_stopped")
	return nil
}

// Ready reports whether the server is listening.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Server) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Addr returns the listening address once Start has bound, or the
// configured address before that.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

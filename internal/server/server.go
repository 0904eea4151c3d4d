// Package server exposes the agent's runtime status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/raphaelgruber/socialagent/internal/metrics"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
)

// StatsSource reports job state. *scheduler.Scheduler implements it.
type StatsSource interface {
	Stats() []scheduler.JobStats
	Running() bool
}

// Status is the /stats response body.
type Status struct {
	Running bool                 `json:"running"`
	Jobs    []scheduler.JobStats `json:"jobs"`
	Metrics *metrics.Snapshot    `json:"metrics,omitempty"`
}

// Server serves /health and /stats.
type Server struct {
	http    *http.Server
	stats   StatsSource
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a status server listening on addr. collector may be nil.
func New(addr string, stats StatsSource, collector *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{stats: stats, metrics: collector, logger: logger}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.stats.Running() {
		http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	status := Status{Running: s.stats.Running(), Jobs: s.stats.Stats()}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		status.Metrics = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("encode stats", "error", err)
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

// Package httpapi serves the read-only local status surface. It exposes
// liveness, the latest status record and the Prometheus exposition; nothing
// on it can mutate trading state.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/windrose-io/windrose/internal/telemetry"
)

// Server is the read-only status server.
type Server struct {
	srv *http.Server
	log zerolog.Logger

	mu     sync.RWMutex
	status telemetry.StatusRecord
	ready  bool
}

// New builds the server on addr with the metrics registry mounted.
func New(addr string, registry *prometheus.Registry, log zerolog.Logger) *Server {
	s := &Server{log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Publish replaces the status record served on /status.
func (s *Server) Publish(rec telemetry.StatusRecord) {
	s.mu.Lock()
	s.status = rec
	s.ready = true
	s.mu.Unlock()
}

// Start serves until Shutdown. Errors other than a clean close are logged,
// not fatal: the governor trades fine without its status surface.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	rec, ready := s.status, s.ready
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "no status published yet"})
		return
	}
	json.NewEncoder(w).Encode(rec)
}

// Package monitor serves the in-run observability endpoints: liveness,
// per-provider breaker health, and Prometheus metrics. The server lives
// only as long as the run that started it.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/net/circuit"
)

// Server exposes /health, /health/providers, and /metrics.
type Server struct {
	http     *http.Server
	breakers map[string]*circuit.Breaker
	runID    string
	started  time.Time
}

func NewServer(addr, runID string, breakers map[string]*circuit.Breaker) *Server {
	s := &Server{
		breakers: breakers,
		runID:    runID,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/providers", s.handleProviders).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("monitor server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"run_id":    s.runID,
		"uptime_ms": time.Since(s.started).Milliseconds(),
	})
}

type providerHealth struct {
	Provider    string  `json:"provider"`
	State       string  `json:"state"`
	FailureRate float64 `json:"failure_rate"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]providerHealth, 0, len(s.breakers))
	degraded := false
	for name, b := range s.breakers {
		state := b.State()
		if state != circuit.StateClosed {
			degraded = true
		}
		out = append(out, providerHealth{
			Provider:    name,
			State:       state.String(),
			FailureRate: b.FailureRate(),
		})
	}

	status := http.StatusOK
	if degraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"providers": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("monitor response encode failed")
	}
}

// Package api exposes the status HTTP interface for the crawler.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/orchestrate"
)

// StatusSource is the read-only view of a run the API serves.
type StatusSource interface {
	State() orchestrate.State
	LastReport() *orchestrate.DeliveryReport
}

// Server wires HTTP handlers to the running orchestrator.
type Server struct {
	router chi.Router
	runs   StatusSource
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runs: runs, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/state", s.state)
	r.Get("/report", s.report)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.runs.State())})
}

func (s *Server) report(w http.ResponseWriter, _ *http.Request) {
	last := s.runs.LastReport()
	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed runs"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

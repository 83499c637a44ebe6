// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avalem/pricewatch/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Trigger starts one monitoring cycle. Returns the accepted run or
	// an already-running rejection.
	Trigger(ctx context.Context) (model.CycleRun, error)

	// Status returns the in-flight run, or the last finished one.
	Status(ctx context.Context) (model.CycleRun, error)

	// Running reports whether a cycle is currently in flight.
	Running() bool
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	monitorHandler *MonitorHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		monitorHandler: NewMonitorHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/monitor/run", MetricsMiddleware(s.monitorHandler.HandleRun, "monitor_run"))
	mux.HandleFunc("/monitor/status", MetricsMiddleware(s.monitorHandler.HandleStatus, "monitor_status"))
}

// cycleResponse mirrors the wire shape of an accepted or queried cycle.
type cycleResponse struct {
	CycleID string            `json:"cycle_id"`
	Status  model.CycleStatus `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

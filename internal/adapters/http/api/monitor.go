// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"

	service "github.com/avalem/pricewatch/internal/app"
)

// MonitorHandler handles monitoring cycle requests.
type MonitorHandler struct {
	deps Dependencies
}

// NewMonitorHandler creates a new monitor handler.
func NewMonitorHandler(deps Dependencies) *MonitorHandler {
	return &MonitorHandler{deps: deps}
}

// HandleRun handles POST /monitor/run requests. The cycle executes
// asynchronously; the response acknowledges acceptance only.
func (h *MonitorHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	run, err := h.deps.Trigger(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "already_running", err)
		case errors.Is(err, service.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, cycleResponse{CycleID: run.ID, Status: run.Status})
}

// HandleStatus handles GET /monitor/status requests.
func (h *MonitorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	run, err := h.deps.Status(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoCycles) {
			writeError(w, http.StatusNotFound, "no_cycles", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

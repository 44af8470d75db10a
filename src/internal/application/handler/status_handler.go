// Package handler provides the local status endpoints of the simulator.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kodflow/ddi-simulator/src/internal/application/fleet"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/store"
	"github.com/kodflow/ddi-simulator/src/internal/version"
)

// StatusSource provides device state snapshots.
type StatusSource interface {
	Snapshot() []store.DeviceStatus
	Device(controllerID string) (store.DeviceStatus, bool)
}

// StatsSource reports the runtime counters of a fleet.
type StatsSource interface {
	Stats() fleet.Stats
}

// StatusHandler serves health and per-device state.
type StatusHandler struct {
	source  StatusSource
	stats   StatsSource
	started time.Time
}

// NewStatusHandler creates a new status handler instance.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source, started: time.Now()}
}

// WithStats enables the /stats endpoint.
func (h *StatusHandler) WithStats(stats StatsSource) *StatusHandler {
	h.stats = stats
	return h
}

// Routes registers every endpoint on mux.
func (h *StatusHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/devices", h.HandleDevices)
	if h.stats != nil {
		mux.HandleFunc("/stats", h.HandleStats)
	}
}

// HandleHealth responds to health check requests with service status.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]string{
		"status":    "healthy",
		"service":   "ddi-simulator",
		"version":   version.GetShortVersion(),
		"devices":   fmt.Sprintf("%d", len(h.source.Snapshot())),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleDevices returns every device, or one device when ?id= is given.
func (h *StatusHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusOK, h.source.Snapshot())
		return
	}

	status, ok := h.source.Device(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "not_found",
			"message": "Unknown controller id",
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleStats returns worker pool and rate limiter counters.
func (h *StatusHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stats == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithField("error", err).Error("Failed to encode response")
	}
}

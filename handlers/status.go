package handlers

import (
	"encoding/json"
	"net/http"

	"rostercal/models"
)

// Aggregator is the control surface the status endpoints need.
type Aggregator interface {
	Status() models.AggregationStatus
	RefreshNow()
}

// StatusHandler reports aggregation progress and accepts refresh triggers.
type StatusHandler struct {
	Aggregator Aggregator
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(aggregator Aggregator) *StatusHandler {
	return &StatusHandler{Aggregator: aggregator}
}

// GetStatus returns the status snapshot of the most recent cycle.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Aggregator.Status())
}

// Refresh schedules an immediate aggregation cycle without waiting for
// it to finish.
func (h *StatusHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.Aggregator.RefreshNow()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "refresh scheduled"})
}

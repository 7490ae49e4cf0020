package handlers

import (
	"encoding/json"
	"net/http"

	"rostercal/config"
	"rostercal/internal/breaker"
	"rostercal/models"
)

// BreakerStats exposes the per-source circuit breaker snapshots.
type BreakerStats interface {
	Stats() map[string]breaker.Stats
}

// SourcesHandler lists the configured sources together with their
// breaker state.
type SourcesHandler struct {
	Sources  []config.CalendarSource
	Breakers BreakerStats
}

// NewSourcesHandler creates a new SourcesHandler.
func NewSourcesHandler(sources []config.CalendarSource, breakers BreakerStats) *SourcesHandler {
	return &SourcesHandler{Sources: sources, Breakers: breakers}
}

// ListSources returns every configured source in config order. Sources
// that have never been fetched carry no breaker snapshot.
func (h *SourcesHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	var stats map[string]breaker.Stats
	if h.Breakers != nil {
		stats = h.Breakers.Stats()
	}

	infos := make([]models.SourceInfo, 0, len(h.Sources))
	for _, src := range h.Sources {
		info := models.SourceInfo{
			Name:    src.Name,
			URL:     src.URL,
			Enabled: src.IsEnabled(),
			Color:   src.Color,
		}
		if st, ok := stats[src.Name]; ok {
			info.Breaker = breakerSnapshot(st)
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SourcesResponse{Sources: infos, Total: len(infos)})
}

func breakerSnapshot(stats breaker.Stats) *models.BreakerSnapshot {
	return &models.BreakerSnapshot{
		State:          string(stats.State),
		Failures:       stats.Failures,
		TotalRequests:  stats.TotalRequests,
		TotalSuccesses: stats.TotalSuccesses,
		TotalFailures:  stats.TotalFailures,
		LastSuccess:    stats.LastSuccess,
		LastFailure:    stats.LastFailure,
	}
}

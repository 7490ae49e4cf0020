package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"rostercal/internal/database"
	"rostercal/models"
)

// maxHistoryLimit caps how many rows one history request can return.
const maxHistoryLimit = 500

// SyncHistory reads recorded fetch attempts, newest first.
type SyncHistory interface {
	GetBySource(sourceName string, limit int) ([]*database.SyncRecord, error)
	GetRecent(limit int) ([]*database.SyncRecord, error)
}

// HistoryHandler serves sync history queries.
type HistoryHandler struct {
	History SyncHistory
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(history SyncHistory) *HistoryHandler {
	return &HistoryHandler{History: history}
}

// GetHistory returns recent fetch attempts. An optional source parameter
// narrows the query to one source; a non-positive or missing limit falls
// back to the repository default.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "sync history is not enabled"})
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	source := strings.TrimSpace(r.URL.Query().Get("source"))

	var (
		records []*database.SyncRecord
		err     error
	)
	if source != "" {
		records, err = h.History.GetBySource(source, limit)
	} else {
		records, err = h.History.GetRecent(limit)
	}
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Failed to query sync history: " + err.Error(),
		})
		return
	}

	attempts := make([]models.SyncAttempt, 0, len(records))
	for _, rec := range records {
		attempts = append(attempts, syncAttempt(rec))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.HistoryResponse{Records: attempts, Total: len(attempts)})
}

func syncAttempt(rec *database.SyncRecord) models.SyncAttempt {
	attempt := models.SyncAttempt{
		SourceName:  rec.SourceName,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Success:     rec.Success,
		NotModified: rec.NotModified,
		EventsFound: rec.EventsFound,
	}
	if rec.ErrorMessage != nil {
		attempt.Error = *rec.ErrorMessage
	}
	if rec.HTTPStatus != nil {
		attempt.HTTPStatus = *rec.HTTPStatus
	}
	if rec.ResponseSizeBytes != nil {
		attempt.ResponseSizeBytes = *rec.ResponseSizeBytes
	}
	if rec.DurationMS != nil {
		attempt.DurationMS = *rec.DurationMS
	}
	return attempt
}

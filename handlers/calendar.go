package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rostercal/internal/ics"
)

// FeedProvider hands out the most recently encoded calendar. A nil
// output means no aggregation cycle has completed yet.
type FeedProvider interface {
	Output() *ics.Output
}

// CalendarHandler serves the aggregated iCalendar feed.
type CalendarHandler struct {
	Feed FeedProvider
}

// NewCalendarHandler creates a new CalendarHandler.
func NewCalendarHandler(feed FeedProvider) *CalendarHandler {
	return &CalendarHandler{Feed: feed}
}

// GetCalendar serves the cached feed with validators so subscription
// clients can poll cheaply. HEAD requests get headers only.
func (h *CalendarHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	out := h.Feed.Output()
	if out == nil {
		w.Header().Set("Retry-After", "30")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "calendar not generated yet"})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", out.ETag)
	w.Header().Set("Last-Modified", out.GeneratedAt.UTC().Format(http.TimeFormat))

	if clientHasCurrent(r, out) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Content)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(out.Content)
}

// clientHasCurrent applies the conditional request rules: If-None-Match
// wins over If-Modified-Since when both are present.
func clientHasCurrent(r *http.Request, out *ics.Output) bool {
	if match := r.Header.Get("If-None-Match"); match != "" {
		return etagMatches(match, out.ETag)
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		t, err := http.ParseTime(since)
		if err != nil {
			return false
		}
		// HTTP dates carry second precision.
		return !out.GeneratedAt.Truncate(time.Second).After(t)
	}
	return false
}

// etagMatches uses the weak comparison rule, so W/ prefixed validators
// match their strong form and * matches any representation.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

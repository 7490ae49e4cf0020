package models

import "time"

// SourceOutcome records how one source fared during a fetch cycle.
type SourceOutcome struct {
	SourceName  string `json:"sourceName"`
	EventCount  int    `json:"eventCount"`
	NotModified bool   `json:"notModified"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"durationMs"`
}

// BreakerSnapshot is the API view of one source's circuit breaker.
type BreakerSnapshot struct {
	State          string     `json:"state"`
	Failures       int        `json:"failures"`
	TotalRequests  int64      `json:"totalRequests"`
	TotalSuccesses int64      `json:"totalSuccesses"`
	TotalFailures  int64      `json:"totalFailures"`
	LastSuccess    *time.Time `json:"lastSuccess,omitempty"`
	LastFailure    *time.Time `json:"lastFailure,omitempty"`
}

// SourceInfo describes a configured source for the sources endpoint.
type SourceInfo struct {
	Name    string           `json:"name"`
	URL     string           `json:"url"`
	Enabled bool             `json:"enabled"`
	Color   string           `json:"color,omitempty"`
	Breaker *BreakerSnapshot `json:"breaker,omitempty"`
}

// SyncAttempt is the API view of one recorded fetch attempt.
type SyncAttempt struct {
	SourceName        string     `json:"sourceName"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Success           bool       `json:"success"`
	NotModified       bool       `json:"notModified"`
	Error             string     `json:"error,omitempty"`
	EventsFound       int        `json:"eventsFound"`
	HTTPStatus        int        `json:"httpStatus,omitempty"`
	ResponseSizeBytes int64      `json:"responseSizeBytes,omitempty"`
	DurationMS        int64      `json:"durationMs,omitempty"`
}

// SourcesResponse is the sources endpoint response.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
	Total   int          `json:"total"`
}

// HistoryResponse is the history endpoint response, newest first.
type HistoryResponse struct {
	Records []SyncAttempt `json:"records"`
	Total   int           `json:"total"`
}

// AggregationStatus is the status endpoint response describing the most
// recent aggregation cycle and the cached output.
type AggregationStatus struct {
	Running         bool            `json:"running"`
	LastStarted     *time.Time      `json:"lastStarted,omitempty"`
	LastCompleted   *time.Time      `json:"lastCompleted,omitempty"`
	LastDurationMS  int64           `json:"lastDurationMs"`
	NextRun         *time.Time      `json:"nextRun,omitempty"`
	TotalEvents     int             `json:"totalEvents"`
	UniqueEvents    int             `json:"uniqueEvents"`
	DuplicatesFound int             `json:"duplicatesFound"`
	ConflictsFound  int             `json:"conflictsFound"`
	Sources         []SourceOutcome `json:"sources"`
	Violations      []string        `json:"violations,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
}

package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"rostercal/handlers"
	"rostercal/internal/ics"
	"rostercal/models"
)

type stubFeed struct {
	out *ics.Output
}

func (s *stubFeed) Output() *ics.Output { return s.out }

var feedGeneratedAt = time.Date(2025, 10, 6, 8, 0, 0, 0, time.UTC)

func feedFixture(t *testing.T) *ics.Output {
	t.Helper()

	event, err := models.NewEvent("Riverside FC vs North County",
		time.Date(2025, 10, 11, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 10, 11, 16, 0, 0, 0, time.UTC),
		"Riverside FC")
	if err != nil {
		t.Fatal(err)
	}

	enc := ics.NewEncoder("Test Calendar", "", "UTC")
	enc.Now = func() time.Time { return feedGeneratedAt }

	out := enc.Encode([]*models.Event{event})
	return &out
}

func TestGetCalendar_ServesFeed(t *testing.T) {
	out := feedFixture(t)
	h := handlers.NewCalendarHandler(&stubFeed{out: out})

	req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
	rec := httptest.NewRecorder()

	h.GetCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/calendar; charset=utf-8" {
		t.Errorf("expected text/calendar content type, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control %q", got)
	}
	if got := rec.Header().Get("ETag"); got != out.ETag {
		t.Errorf("expected ETag %q, got %q", out.ETag, got)
	}
	wantModified := feedGeneratedAt.Format(http.TimeFormat)
	if got := rec.Header().Get("Last-Modified"); got != wantModified {
		t.Errorf("expected Last-Modified %q, got %q", wantModified, got)
	}
	if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(out.Content)) {
		t.Errorf("expected Content-Length %d, got %q", len(out.Content), got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Error("body should contain BEGIN:VCALENDAR")
	}
	if !strings.Contains(body, "Riverside FC vs North County") {
		t.Error("body should contain the event title")
	}
}

func TestGetCalendar_NotReady(t *testing.T) {
	h := handlers.NewCalendarHandler(&stubFeed{out: nil})

	req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
	rec := httptest.NewRecorder()

	h.GetCalendar(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("expected Retry-After 30, got %q", got)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["error"] != "calendar not generated yet" {
		t.Errorf("unexpected error message %q", resp["error"])
	}
}

func TestGetCalendar_ETagMatchReturns304(t *testing.T) {
	out := feedFixture(t)
	h := handlers.NewCalendarHandler(&stubFeed{out: out})

	req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
	req.Header.Set("If-None-Match", out.ETag)
	rec := httptest.NewRecorder()

	h.GetCalendar(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 response should have no body, got %d bytes", rec.Body.Len())
	}
	// The validator travels with the 304 so the client can keep it.
	if got := rec.Header().Get("ETag"); got != out.ETag {
		t.Errorf("expected ETag %q on 304, got %q", out.ETag, got)
	}
}

func TestGetCalendar_ETagForms(t *testing.T) {
	out := feedFixture(t)

	tests := []struct {
		name        string
		ifNoneMatch string
		wantCode    int
	}{
		{name: "exact match", ifNoneMatch: out.ETag, wantCode: http.StatusNotModified},
		{name: "weak form", ifNoneMatch: "W/" + out.ETag, wantCode: http.StatusNotModified},
		{name: "list with match", ifNoneMatch: `"stale", ` + out.ETag, wantCode: http.StatusNotModified},
		{name: "wildcard", ifNoneMatch: "*", wantCode: http.StatusNotModified},
		{name: "stale tag", ifNoneMatch: `"stale"`, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewCalendarHandler(&stubFeed{out: out})

			req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)
			rec := httptest.NewRecorder()

			h.GetCalendar(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestGetCalendar_IfModifiedSince(t *testing.T) {
	out := feedFixture(t)

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "same instant", header: feedGeneratedAt.Format(http.TimeFormat), wantCode: http.StatusNotModified},
		{name: "client is newer", header: feedGeneratedAt.Add(time.Hour).Format(http.TimeFormat), wantCode: http.StatusNotModified},
		{name: "client is older", header: feedGeneratedAt.Add(-time.Hour).Format(http.TimeFormat), wantCode: http.StatusOK},
		{name: "malformed date", header: "not-a-date", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewCalendarHandler(&stubFeed{out: out})

			req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
			req.Header.Set("If-Modified-Since", tt.header)
			rec := httptest.NewRecorder()

			h.GetCalendar(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestGetCalendar_IfNoneMatchWinsOverIfModifiedSince(t *testing.T) {
	out := feedFixture(t)
	h := handlers.NewCalendarHandler(&stubFeed{out: out})

	// A stale ETag forces a full response even when the date validator
	// says nothing changed.
	req := httptest.NewRequest(http.MethodGet, "/calendar.ics", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	req.Header.Set("If-Modified-Since", feedGeneratedAt.Format(http.TimeFormat))
	rec := httptest.NewRecorder()

	h.GetCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetCalendar_HeadOmitsBody(t *testing.T) {
	out := feedFixture(t)
	h := handlers.NewCalendarHandler(&stubFeed{out: out})

	req := httptest.NewRequest(http.MethodHead, "/calendar.ics", nil)
	rec := httptest.NewRecorder()

	h.GetCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response should have no body, got %d bytes", rec.Body.Len())
	}
	if got := rec.Header().Get("ETag"); got != out.ETag {
		t.Errorf("expected ETag %q, got %q", out.ETag, got)
	}
	if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(out.Content)) {
		t.Errorf("expected Content-Length %d, got %q", len(out.Content), got)
	}
}

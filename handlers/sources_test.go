package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"rostercal/config"
	"rostercal/handlers"
	"rostercal/internal/breaker"
	"rostercal/models"
)

func TestListSources_IncludesBreakerState(t *testing.T) {
	disabled := false
	sources := []config.CalendarSource{
		{Name: "Riverside FC", URL: "https://riverside.example.com/cal.ics", Color: "#0057B8"},
		{Name: "Old League", URL: "https://old.example.com/cal.ics", Enabled: &disabled},
	}

	registry := breaker.NewRegistry(breaker.Config{})
	b := registry.GetOrCreate("Riverside FC")
	if err := b.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}); err == nil {
		t.Fatal("expected the breaker call to fail")
	}

	h := handlers.NewSourcesHandler(sources, registry)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()

	h.ListSources(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp models.SourcesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	if resp.Total != 2 {
		t.Fatalf("expected 2 sources, got %d", resp.Total)
	}

	riverside := resp.Sources[0]
	if riverside.Name != "Riverside FC" || !riverside.Enabled {
		t.Errorf("unexpected first source %+v", riverside)
	}
	if riverside.Color != "#0057B8" {
		t.Errorf("expected color preserved, got %q", riverside.Color)
	}
	if riverside.Breaker == nil {
		t.Fatal("expected a breaker snapshot for the fetched source")
	}
	if riverside.Breaker.State != "closed" {
		t.Errorf("expected closed breaker, got %q", riverside.Breaker.State)
	}
	if riverside.Breaker.TotalRequests != 1 || riverside.Breaker.TotalFailures != 1 {
		t.Errorf("unexpected breaker totals: %d requests, %d failures",
			riverside.Breaker.TotalRequests, riverside.Breaker.TotalFailures)
	}
	if riverside.Breaker.LastFailure == nil {
		t.Error("expected lastFailure to be set")
	}

	old := resp.Sources[1]
	if old.Enabled {
		t.Error("expected second source to be disabled")
	}
	if old.Breaker != nil {
		t.Error("a source that was never fetched should have no breaker snapshot")
	}
}

func TestListSources_OpenBreakerReported(t *testing.T) {
	sources := []config.CalendarSource{
		{Name: "Flaky Cal", URL: "https://flaky.example.com/cal.ics"},
	}

	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 2})
	b := registry.GetOrCreate("Flaky Cal")
	for i := 0; i < 2; i++ {
		b.Execute(context.Background(), func(context.Context) error {
			return errors.New("boom")
		})
	}

	h := handlers.NewSourcesHandler(sources, registry)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()

	h.ListSources(rec, req)

	var resp models.SourcesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	if resp.Sources[0].Breaker == nil {
		t.Fatal("expected a breaker snapshot")
	}
	if resp.Sources[0].Breaker.State != "open" {
		t.Errorf("expected open breaker, got %q", resp.Sources[0].Breaker.State)
	}
	if resp.Sources[0].Breaker.Failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", resp.Sources[0].Breaker.Failures)
	}
}

func TestListSources_NilBreakers(t *testing.T) {
	sources := []config.CalendarSource{
		{Name: "Riverside FC", URL: "https://riverside.example.com/cal.ics"},
	}

	h := handlers.NewSourcesHandler(sources, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()

	h.ListSources(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp models.SourcesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Sources[0].Breaker != nil {
		t.Errorf("expected one source without breaker data, got %+v", resp.Sources)
	}
}

func TestListSources_Empty(t *testing.T) {
	h := handlers.NewSourcesHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()

	h.ListSources(rec, req)

	var resp models.SourcesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sources == nil {
		t.Error("sources should encode as an empty array, not null")
	}
	if resp.Total != 0 {
		t.Errorf("expected total 0, got %d", resp.Total)
	}
}

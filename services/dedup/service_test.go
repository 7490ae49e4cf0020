package dedup

import (
	"math"
	"testing"
	"time"

	"rostercal/models"
)

func makeEvent(t *testing.T, title, source string, start time.Time, duration time.Duration) *models.Event {
	t.Helper()
	event, err := models.NewEvent(title, start, start.Add(duration), source)
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	return event
}

func TestNew_WeightsRenormalized(t *testing.T) {
	s := New(Options{
		TitleWeight:       2,
		TimeWeight:        1,
		LocationWeight:    1,
		DescriptionWeight: 1,
		Threshold:         0.8,
		TimeTolerance:     time.Minute,
	})

	sum := s.titleWeight + s.timeWeight + s.locationWeight + s.descriptionWeight
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weights sum to %v, want 1.0", sum)
	}
	if math.Abs(s.titleWeight-0.4) > 1e-9 {
		t.Errorf("title weight = %v, want 0.4", s.titleWeight)
	}
}

func TestNew_ZeroValuesFallBackToDefaults(t *testing.T) {
	s := New(Options{})

	if s.threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", s.threshold, DefaultThreshold)
	}
	if s.tolerance != DefaultTimeTolerance {
		t.Errorf("tolerance = %v, want %v", s.tolerance, DefaultTimeTolerance)
	}
	if math.Abs(s.titleWeight-0.4) > 1e-9 || math.Abs(s.timeWeight-0.3) > 1e-9 {
		t.Errorf("weights = %v/%v/%v/%v, want defaults",
			s.titleWeight, s.timeWeight, s.locationWeight, s.descriptionWeight)
	}
}

func TestFindDuplicates_IdenticalAcrossSources(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	a := makeEvent(t, "Tigers vs Lions", "Team A", start, 2*time.Hour)
	a.SetLocation("Riverside Park")
	b := makeEvent(t, "Tigers vs Lions", "Team B", start, 2*time.Hour)
	b.SetLocation("Riverside Park")

	s := New(DefaultOptions())
	results := s.FindDuplicates([]*models.Event{a, b}, nil)

	ra := results[a.ID]
	if !ra.IsDuplicate {
		t.Fatalf("expected duplicate, confidence %.3f factors %+v", ra.Confidence, ra.Factors)
	}
	if ra.CanonicalID != b.ID {
		t.Errorf("canonical = %q, want %q", ra.CanonicalID, b.ID)
	}
	if ra.Factors.SameSource {
		t.Error("expected different sources in factors")
	}
	if ra.Confidence < DefaultThreshold {
		t.Errorf("confidence = %v, want >= %v", ra.Confidence, DefaultThreshold)
	}
}

func TestFindDuplicates_ExistingPreferredOnTie(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	known := makeEvent(t, "Game vs Hawks", "Team A", start, 2*time.Hour)
	fresh := makeEvent(t, "Game vs Hawks", "Team B", start, 2*time.Hour)
	other := makeEvent(t, "Game vs Hawks", "Team C", start, 2*time.Hour)

	s := New(DefaultOptions())
	results := s.FindDuplicates([]*models.Event{fresh, other}, []*models.Event{known})

	// Only new events get verdicts.
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	r := results[fresh.ID]
	if !r.IsDuplicate {
		t.Fatalf("expected duplicate, confidence %.3f", r.Confidence)
	}
	// The other new event scores identically; the known event wins the tie.
	if r.CanonicalID != known.ID {
		t.Errorf("canonical = %q, want existing event %q", r.CanonicalID, known.ID)
	}
}

func TestFindDuplicates_UnrelatedEventsKeptApart(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	a := makeEvent(t, "Varsity Soccer vs Eagles", "Team A", start, 2*time.Hour)
	a.SetLocation("Riverside Park")
	a.Type = models.EventTypeGame
	b := makeEvent(t, "Swim Practice", "Team B", start.Add(25*time.Minute), time.Hour)
	b.SetLocation("Community Pool")
	b.Type = models.EventTypePractice

	s := New(DefaultOptions())
	results := s.FindDuplicates([]*models.Event{a, b}, nil)

	for _, event := range []*models.Event{a, b} {
		if r := results[event.ID]; r.IsDuplicate {
			t.Errorf("%q marked duplicate at %.3f", event.Title, r.Confidence)
		}
	}
}

func TestFindDuplicates_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name          string
		tolerance     time.Duration
		wantDuplicate bool
	}{
		{"five minutes apart within ten minute tolerance", 10 * time.Minute, true},
		{"five minutes apart outside two minute tolerance", 2 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
			a := makeEvent(t, "Game vs Hawks", "Team A", start, 2*time.Hour)
			b := makeEvent(t, "Game vs Hawks", "Team B", start.Add(5*time.Minute), 2*time.Hour)

			opts := DefaultOptions()
			opts.TimeTolerance = tt.tolerance
			s := New(opts)

			results := s.FindDuplicates([]*models.Event{a, b}, nil)
			if got := results[a.ID].IsDuplicate; got != tt.wantDuplicate {
				t.Errorf("IsDuplicate = %v, want %v (confidence %.3f)",
					got, tt.wantDuplicate, results[a.ID].Confidence)
			}
		})
	}
}

func TestFindDuplicates_SameSourcePenalty(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	a := makeEvent(t, "Game vs Hawks", "Team A", start, 2*time.Hour)
	b := makeEvent(t, "Game vs Hawks", "Team A", start, 2*time.Hour)

	s := New(DefaultOptions())
	results := s.FindDuplicates([]*models.Event{a, b}, nil)

	r := results[a.ID]
	if r.IsDuplicate {
		t.Errorf("same-source pair marked duplicate at %.3f", r.Confidence)
	}
	if !r.Factors.SameSource {
		t.Error("expected SameSource factor")
	}
	// Perfect factor scores discounted to 0.7, then boosted 1.1 for the
	// matching type.
	if math.Abs(r.Confidence-0.77) > 1e-6 {
		t.Errorf("confidence = %v, want 0.77", r.Confidence)
	}
}

func TestFindDuplicates_AdjacentDayBuckets(t *testing.T) {
	// Ten minutes apart but on opposite sides of UTC midnight.
	a := makeEvent(t, "Night Game vs Hawks", "Team A",
		time.Date(2025, 9, 6, 23, 55, 0, 0, time.UTC), 2*time.Hour)
	b := makeEvent(t, "Night Game vs Hawks", "Team B",
		time.Date(2025, 9, 7, 0, 5, 0, 0, time.UTC), 2*time.Hour)

	s := New(DefaultOptions())
	results := s.FindDuplicates([]*models.Event{a, b}, nil)

	if !results[a.ID].IsDuplicate {
		t.Errorf("expected midnight-straddling pair to match, confidence %.3f",
			results[a.ID].Confidence)
	}
}

func TestFindDuplicates_VerdictForEveryInput(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	events := []*models.Event{
		makeEvent(t, "Practice", "Team A", start, time.Hour),
		makeEvent(t, "Team Dinner", "Team B", start.Add(72*time.Hour), 2*time.Hour),
	}

	s := New(DefaultOptions())
	results := s.FindDuplicates(events, nil)

	if len(results) != len(events) {
		t.Fatalf("expected %d results, got %d", len(events), len(results))
	}
	for _, event := range events {
		r, ok := results[event.ID]
		if !ok {
			t.Fatalf("no verdict for %q", event.Title)
		}
		if r.IsDuplicate || r.CanonicalID != "" {
			t.Errorf("%q: unexpected duplicate verdict %+v", event.Title, r)
		}
	}
}

func TestMerge(t *testing.T) {
	start := time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC)
	s := New(DefaultOptions())

	newPair := func(t *testing.T) (*models.Event, *models.Event) {
		t.Helper()
		canonical := makeEvent(t, "Game vs Hawks", "Team A", start, 2*time.Hour)
		duplicate := makeEvent(t, "Game vs Hawks", "Team B", start, 2*time.Hour)
		return canonical, duplicate
	}

	t.Run("appends distinct description", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetDescription("Bring water")
		duplicate.SetDescription("Wear red jerseys")

		merged := s.Merge(canonical, duplicate)
		if merged.Description != "Bring water\n\nWear red jerseys" {
			t.Errorf("Description = %q", merged.Description)
		}
	})

	t.Run("keeps description that already contains the duplicate's", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetDescription("Bring water and snacks")
		duplicate.SetDescription("Bring water")

		merged := s.Merge(canonical, duplicate)
		if merged.Description != "Bring water and snacks" {
			t.Errorf("Description = %q", merged.Description)
		}
	})

	t.Run("adopts description when canonical has none", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		duplicate.SetDescription("Wear red jerseys")

		merged := s.Merge(canonical, duplicate)
		if merged.Description != "Wear red jerseys" {
			t.Errorf("Description = %q", merged.Description)
		}
	})

	t.Run("prefers longer location", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetLocation("Riverside")
		duplicate.SetLocation("Riverside Park, Field 3")

		merged := s.Merge(canonical, duplicate)
		if merged.Location != "Riverside Park, Field 3" {
			t.Errorf("Location = %q", merged.Location)
		}
	})

	t.Run("keeps longer canonical location", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetLocation("Riverside Park, Field 3")
		duplicate.SetLocation("Riverside")

		merged := s.Merge(canonical, duplicate)
		if merged.Location != "Riverside Park, Field 3" {
			t.Errorf("Location = %q", merged.Location)
		}
	})

	t.Run("unions tags preserving order", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetTags([]string{"soccer", "varsity"})
		duplicate.SetTags([]string{"Varsity", "home"})

		merged := s.Merge(canonical, duplicate)
		want := []string{"soccer", "varsity", "home"}
		if len(merged.Tags) != len(want) {
			t.Fatalf("Tags = %v, want %v", merged.Tags, want)
		}
		for i, tag := range want {
			if merged.Tags[i] != tag {
				t.Errorf("Tags[%d] = %q, want %q", i, merged.Tags[i], tag)
			}
		}
	})

	t.Run("adopts newer modification time", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		newer := canonical.LastModified.Add(time.Hour)
		duplicate.LastModified = newer

		merged := s.Merge(canonical, duplicate)
		if !merged.LastModified.Equal(newer) {
			t.Errorf("LastModified = %v, want %v", merged.LastModified, newer)
		}
	})

	t.Run("records merge metadata and back-reference", func(t *testing.T) {
		canonical, duplicate := newPair(t)

		merged := s.Merge(canonical, duplicate)
		if merged.Metadata["merged_from"] != duplicate.ID {
			t.Errorf("merged_from = %q, want %q", merged.Metadata["merged_from"], duplicate.ID)
		}
		if merged.Metadata["merge_timestamp"] == "" {
			t.Error("expected merge_timestamp to be set")
		}
		if duplicate.DuplicateOf != canonical.ID {
			t.Errorf("DuplicateOf = %q, want %q", duplicate.DuplicateOf, canonical.ID)
		}
	})

	t.Run("accumulates merged identifiers", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		third := makeEvent(t, "Game vs Hawks", "Team C", start, 2*time.Hour)

		merged := s.Merge(canonical, duplicate)
		merged = s.Merge(merged, third)
		if want := duplicate.ID + "," + third.ID; merged.Metadata["merged_from"] != want {
			t.Errorf("merged_from = %q, want %q", merged.Metadata["merged_from"], want)
		}
	})

	t.Run("leaves canonical input unmodified", func(t *testing.T) {
		canonical, duplicate := newPair(t)
		canonical.SetDescription("Bring water")
		duplicate.SetDescription("Wear red jerseys")

		s.Merge(canonical, duplicate)
		if canonical.Description != "Bring water" {
			t.Errorf("canonical description changed to %q", canonical.Description)
		}
		if canonical.Metadata != nil {
			t.Errorf("canonical metadata changed to %v", canonical.Metadata)
		}
		if canonical.DuplicateOf != "" {
			t.Errorf("canonical DuplicateOf changed to %q", canonical.DuplicateOf)
		}
	})
}

package processor

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"rostercal/config"
	"rostercal/models"
)

const (
	conflictPrefix = "CONFLICT: "

	mergedEventTitlePrefix = "Multiple Events: "
	mergedEventSource      = "Multiple Sources"
	mergedEventColor       = "#FF6600"
)

// Pair is a cross-source pair of events whose time ranges overlap by at
// least the configured minimum.
type Pair struct {
	A *models.Event
	B *models.Event
}

// DetectOverlaps sweeps the events in start order and reports every
// cross-source pair overlapping by at least minimum. Same-source pairs
// are ignored; a source is expected to schedule around itself. The
// input slice is not reordered.
func DetectOverlaps(events []*models.Event, minimum time.Duration) []Pair {
	if len(events) < 2 {
		return nil
	}

	sorted := make([]*models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var pairs []Pair
	for i, a := range sorted {
		for _, b := range sorted[i+1:] {
			// Later events start even later; once one clears a's end
			// the rest do too.
			if !b.Start.Before(a.End) {
				break
			}
			if a.SourceName == b.SourceName {
				continue
			}

			overlapEnd := a.End
			if b.End.Before(overlapEnd) {
				overlapEnd = b.End
			}
			overlap := overlapEnd.Sub(b.Start)
			if overlap >= minimum {
				pairs = append(pairs, Pair{A: a, B: b})
				log.Printf("[processor] overlap: %q (%s) and %q (%s) share %s",
					a.Title, a.SourceName, b.Title, b.SourceName, overlap)
			}
		}
	}
	return pairs
}

// ResolveOverlaps applies one strategy to every detected pair and
// returns the adjusted event list. Unknown strategies fall back to
// conflict marking.
func ResolveOverlaps(events []*models.Event, pairs []Pair, strategy config.OverlapStrategy) []*models.Event {
	if len(pairs) == 0 {
		return events
	}

	switch strategy {
	case config.OverlapMerge:
		return mergeOverlapping(events, pairs)
	case config.OverlapPreferLonger:
		return preferLonger(events, pairs)
	default:
		return markConflicts(events, pairs)
	}
}

// markConflicts prefixes both titles of each pair in place. A title
// already carrying a conflict marker keeps its single marker.
func markConflicts(events []*models.Event, pairs []Pair) []*models.Event {
	for _, p := range pairs {
		for _, e := range []*models.Event{p.A, p.B} {
			if !strings.Contains(e.Title, "CONFLICT") {
				e.Title = conflictPrefix + e.Title
			}
		}
	}
	return events
}

// mergeOverlapping replaces each pair with one placeholder event
// spanning the union interval. The placeholder's color and status are
// fixed defaults. An event consumed by one merge is not merged again.
func mergeOverlapping(events []*models.Event, pairs []Pair) []*models.Event {
	removed := make(map[string]bool)
	var placeholders []*models.Event

	for _, p := range pairs {
		if removed[p.A.ID] || removed[p.B.ID] {
			continue
		}

		start := p.A.Start
		if p.B.Start.Before(start) {
			start = p.B.Start
		}
		end := p.A.End
		if p.B.End.After(end) {
			end = p.B.End
		}

		combined, err := models.NewEvent(
			mergedEventTitlePrefix+p.A.Title+" / "+p.B.Title,
			start, end, mergedEventSource)
		if err != nil {
			log.Printf("[processor] could not merge %q and %q: %v", p.A.Title, p.B.Title, err)
			continue
		}
		combined.SetDescription(fmt.Sprintf("Overlapping events:\n1. %s\n2. %s", p.A.Title, p.B.Title))
		combined.Color = mergedEventColor
		combined.Type = models.EventTypeOther
		combined.Status = models.StatusTentative

		removed[p.A.ID] = true
		removed[p.B.ID] = true
		placeholders = append(placeholders, combined)
	}

	if len(placeholders) == 0 {
		return events
	}

	result := make([]*models.Event, 0, len(events))
	for _, e := range events {
		if !removed[e.ID] {
			result = append(result, e)
		}
	}
	return append(result, placeholders...)
}

// preferLonger drops the shorter event of each pair. Equal durations
// keep the event that started the pair.
func preferLonger(events []*models.Event, pairs []Pair) []*models.Event {
	removed := make(map[string]bool)
	for _, p := range pairs {
		if removed[p.A.ID] || removed[p.B.ID] {
			continue
		}
		if p.B.Duration() > p.A.Duration() {
			removed[p.A.ID] = true
		} else {
			removed[p.B.ID] = true
		}
	}

	result := make([]*models.Event, 0, len(events))
	for _, e := range events {
		if !removed[e.ID] {
			result = append(result, e)
		}
	}
	return result
}

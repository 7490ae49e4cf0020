// Package processor runs parsed events through the post-parse pipeline:
// duplicate folding, title formatting, color assignment, and
// cross-source overlap resolution.
package processor

import (
	"log"
	"regexp"
	"strings"
	"time"

	"rostercal/config"
	"rostercal/models"
	"rostercal/utils/colors"
)

// Deduplicator finds duplicate events across sources and merges a
// duplicate into its canonical event.
type Deduplicator interface {
	FindDuplicates(events, existing []*models.Event) map[string]models.DuplicationResult
	Merge(canonical, duplicate *models.Event) *models.Event
}

// ColorAssignor resolves a display color for an identifier.
type ColorAssignor interface {
	Assign(identifier string, ctx colors.Context) string
}

// Stats summarizes one processing pass.
type Stats struct {
	TotalInput      int `json:"totalInput"`
	UniqueEvents    int `json:"uniqueEvents"`
	DuplicatesFound int `json:"duplicatesFound"`
	TitlesFormatted int `json:"titlesFormatted"`
	ColorsAssigned  int `json:"colorsAssigned"`
	OverlapsFound   int `json:"overlapsFound"`
}

// Result is the outcome of one processing pass.
type Result struct {
	// Events are the events to publish: new events that survived
	// duplicate folding, plus known canonicals refreshed by a merge.
	Events []*models.Event
	// Duplicates are the folded-away events, each pointing at its
	// canonical through DuplicateOf.
	Duplicates []*models.Event
	Stats      Stats
}

// Service applies the post-parse pipeline to each aggregation cycle's
// events.
type Service struct {
	deduper   Deduplicator
	formatter *TitleFormatter
	assignor  ColorAssignor
	settings  config.ProcessingSettings
}

// New creates a processing service. A nil deduper disables duplicate
// folding, a nil formatter disables title formatting, and a nil
// assignor disables color assignment.
func New(deduper Deduplicator, formatter *TitleFormatter, assignor ColorAssignor, settings config.ProcessingSettings) *Service {
	return &Service{
		deduper:   deduper,
		formatter: formatter,
		assignor:  assignor,
		settings:  settings,
	}
}

// Process folds duplicates out of newEvents, refreshes titles and
// colors on the survivors, and resolves cross-source overlaps.
// knownEvents are canonical candidates from earlier runs; one enters
// the result only when a merge refreshes it.
func (s *Service) Process(newEvents, knownEvents []*models.Event) *Result {
	result := &Result{Stats: Stats{TotalInput: len(newEvents)}}

	var verdicts map[string]models.DuplicationResult
	if s.deduper != nil && s.settings.DedupEnabled() {
		verdicts = s.deduper.FindDuplicates(newEvents, knownEvents)
	}

	index := make(map[string]*models.Event, len(newEvents)+len(knownEvents))
	known := make(map[string]bool, len(knownEvents))
	for _, e := range knownEvents {
		index[e.ID] = e
		known[e.ID] = true
	}
	for _, e := range newEvents {
		index[e.ID] = e
	}

	positions := make(map[string]int)
	consumed := make(map[string]bool)

	for _, event := range newEvents {
		if _, emitted := positions[event.ID]; emitted {
			// Already in the result as the canonical of an earlier
			// duplicate; its own verdict is moot. Keeps two events
			// that point at each other from folding both away.
			continue
		}

		verdict, checked := verdicts[event.ID]
		if checked && verdict.IsDuplicate && verdict.CanonicalID != "" {
			canonicalID := verdict.CanonicalID
			if consumed[canonicalID] {
				// The named canonical was itself folded away earlier in
				// this pass; its DuplicateOf names the survivor, which
				// is never consumed within the same pass.
				canonicalID = index[canonicalID].DuplicateOf
			}
			if canonical := index[canonicalID]; canonical != nil && !consumed[canonicalID] {
				merged := s.deduper.Merge(canonical, event)
				index[canonicalID] = merged
				if pos, ok := positions[canonicalID]; ok {
					result.Events[pos] = merged
				} else {
					result.Events = append(result.Events, merged)
					positions[canonicalID] = len(result.Events) - 1
					if !known[canonicalID] {
						result.Stats.UniqueEvents++
					}
				}
				consumed[event.ID] = true
				result.Duplicates = append(result.Duplicates, event)
				result.Stats.DuplicatesFound++
				continue
			}
		}

		result.Events = append(result.Events, event)
		positions[event.ID] = len(result.Events) - 1
		result.Stats.UniqueEvents++
	}

	for _, event := range result.Events {
		if s.formatter != nil {
			original := event.Title
			event.Title = s.formatter.Format(event)
			if event.Title != original {
				result.Stats.TitlesFormatted++
			}
		}
		if s.assignor != nil && event.Color == "" {
			event.Color = s.assignor.Assign(event.SourceName, colors.Context{
				Sport: detectSport(event),
				Team:  extractTeam(event.Title),
			})
			result.Stats.ColorsAssigned++
		}
	}

	if s.settings.OverlapEnabled() {
		minimum := time.Duration(s.settings.OverlapMinimumMinutes) * time.Minute
		pairs := DetectOverlaps(result.Events, minimum)
		result.Stats.OverlapsFound = len(pairs)
		result.Events = ResolveOverlaps(result.Events, pairs, s.settings.OverlapStrategy)
	}

	log.Printf("[processor] processed %d events: %d unique, %d duplicates, %d titles formatted, %d colors assigned, %d overlaps",
		result.Stats.TotalInput, result.Stats.UniqueEvents, result.Stats.DuplicatesFound,
		result.Stats.TitlesFormatted, result.Stats.ColorsAssigned, result.Stats.OverlapsFound)

	return result
}

type sportKeywords struct {
	sport    string
	keywords []string
}

// Declaration order is match priority. Generic words such as "ball"
// can claim a title before a more specific sport later in the table.
var colorSportKeywords = []sportKeywords{
	{"soccer", []string{"soccer", "futbol", "football"}},
	{"basketball", []string{"basketball", "hoops", "bball"}},
	{"baseball", []string{"baseball", "ball", "diamond"}},
	{"hockey", []string{"hockey", "ice", "puck"}},
	{"tennis", []string{"tennis", "court", "racket"}},
	{"swimming", []string{"swim", "pool", "stroke"}},
	{"track", []string{"track", "field", "run", "sprint"}},
	{"volleyball", []string{"volleyball", "vball", "spike"}},
	{"golf", []string{"golf", "course", "tee"}},
	{"wrestling", []string{"wrestling", "mat", "pin"}},
}

var (
	matchupTeams = regexp.MustCompile(`(?i)(\w+)\s+(?:vs?|versus|@|at)\s+(\w+)`)
	knownMascots = regexp.MustCompile(`(?i)\b(eagles|tigers|lions|bears|wolves|sharks|hawks|falcons|panthers|bulls|rams)\b`)
)

// detectSport scans the event's title, description, and location for
// sport keywords and returns the first table entry that matches.
func detectSport(event *models.Event) string {
	text := strings.ToLower(event.Title)
	if event.Description != "" {
		text += " " + strings.ToLower(event.Description)
	}
	if event.Location != "" {
		text += " " + strings.ToLower(event.Location)
	}

	for _, entry := range colorSportKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(text, keyword) {
				return entry.sport
			}
		}
	}
	return ""
}

// extractTeam pulls a team name out of a title: the first side of a
// matchup when one is present, otherwise a known mascot word.
func extractTeam(title string) string {
	if m := matchupTeams.FindStringSubmatch(title); m != nil {
		return strings.ToLower(m[1])
	}
	if m := knownMascots.FindStringSubmatch(title); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

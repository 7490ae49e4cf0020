// Package dedup collapses events that describe the same real-world
// occurrence reported by independent sources. Identifiers cannot be
// trusted across feeds, so matching is fuzzy: a weighted blend of title,
// time, location, and description similarity decides whether two events
// are the same one.
package dedup

import (
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"rostercal/models"
)

const (
	// DefaultThreshold is the confidence at or above which the best
	// candidate counts as a duplicate.
	DefaultThreshold = 0.8
	// DefaultTimeTolerance bounds how far apart two start instants may be
	// while still being considered for a match.
	DefaultTimeTolerance = 30 * time.Minute

	defaultTitleWeight       = 0.4
	defaultTimeWeight        = 0.3
	defaultLocationWeight    = 0.2
	defaultDescriptionWeight = 0.1

	// Two events from the same source are rarely the same occurrence
	// reported twice, so a same-source match is discounted.
	sameSourcePenalty = 0.7
	// A matching inferred event type is weak evidence in favor.
	typeMatchBoost = 1.1

	// Start-time closeness dominates the time factor; duration closeness
	// is normalized against a two-hour spread.
	startShare       = 0.8
	durationShare    = 0.2
	maxDurationDelta = 2 * time.Hour
)

// Options configures a deduplication Service. Factor weights are
// renormalized to sum to 1.0; an all-zero weight set, threshold, or
// tolerance falls back to the defaults.
type Options struct {
	TitleWeight       float64
	TimeWeight        float64
	LocationWeight    float64
	DescriptionWeight float64
	Threshold         float64
	TimeTolerance     time.Duration
}

// DefaultOptions returns the standard weights, threshold, and tolerance.
func DefaultOptions() Options {
	return Options{
		TitleWeight:       defaultTitleWeight,
		TimeWeight:        defaultTimeWeight,
		LocationWeight:    defaultLocationWeight,
		DescriptionWeight: defaultDescriptionWeight,
		Threshold:         DefaultThreshold,
		TimeTolerance:     DefaultTimeTolerance,
	}
}

// Service scores candidate pairs and merges confirmed duplicates.
type Service struct {
	titleWeight       float64
	timeWeight        float64
	locationWeight    float64
	descriptionWeight float64
	threshold         float64
	tolerance         time.Duration
}

// New creates a deduplication service from the given options.
func New(opts Options) *Service {
	total := opts.TitleWeight + opts.TimeWeight + opts.LocationWeight + opts.DescriptionWeight
	if total <= 0 {
		opts.TitleWeight = defaultTitleWeight
		opts.TimeWeight = defaultTimeWeight
		opts.LocationWeight = defaultLocationWeight
		opts.DescriptionWeight = defaultDescriptionWeight
		total = 1.0
	}
	if math.Abs(total-1.0) > 0.01 {
		log.Printf("[dedup] factor weights sum to %.3f, renormalizing", total)
	}

	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TimeTolerance <= 0 {
		opts.TimeTolerance = DefaultTimeTolerance
	}

	return &Service{
		titleWeight:       opts.TitleWeight / total,
		timeWeight:        opts.TimeWeight / total,
		locationWeight:    opts.LocationWeight / total,
		descriptionWeight: opts.DescriptionWeight / total,
		threshold:         opts.Threshold,
		tolerance:         opts.TimeTolerance,
	}
}

// FindDuplicates scores each new event against the other new events and
// the previously known ones, returning a verdict per new event keyed by
// event ID. Existing events are preferred as the canonical side when
// scores tie.
func (s *Service) FindDuplicates(events, existing []*models.Event) map[string]models.DuplicationResult {
	results := make(map[string]models.DuplicationResult, len(events))

	all := make([]*models.Event, 0, len(existing)+len(events))
	all = append(all, existing...)
	all = append(all, events...)
	buckets := bucketByDay(all)

	existingIDs := make(map[string]bool, len(existing))
	for _, e := range existing {
		existingIDs[e.ID] = true
	}

	duplicates := 0
	for _, event := range events {
		var (
			best           *models.Event
			bestConfidence float64
			bestFactors    models.FactorScores
		)
		for _, candidate := range s.candidatesFor(event, buckets, existingIDs) {
			if candidate.ID == event.ID {
				continue
			}
			factors := s.similarityFactors(event, candidate)
			confidence := s.confidence(factors)
			if confidence > bestConfidence {
				best = candidate
				bestConfidence = confidence
				bestFactors = factors
			}
		}

		result := models.DuplicationResult{
			IsDuplicate: best != nil && bestConfidence >= s.threshold,
			Confidence:  bestConfidence,
			Factors:     bestFactors,
		}
		if result.IsDuplicate {
			result.CanonicalID = best.ID
			duplicates++
			log.Printf("[dedup] %q (%s) duplicates %q (%s), confidence %.2f",
				event.Title, event.SourceName, best.Title, best.SourceName, bestConfidence)
		}
		results[event.ID] = result
	}

	log.Printf("[dedup] checked %d events, found %d duplicates", len(events), duplicates)
	return results
}

// Merge folds a duplicate's supplementary information into a copy of the
// canonical event: prefer the canonical description and append the
// duplicate's when it adds something, prefer the longer location, union
// the tags, and adopt the newer modification time. The duplicate is
// marked as folded into the canonical event; the canonical input itself
// is not modified.
func (s *Service) Merge(canonical, duplicate *models.Event) *models.Event {
	merged := *canonical

	switch {
	case duplicate.Description != "" && canonical.Description == "":
		merged.SetDescription(duplicate.Description)
	case duplicate.Description != "" && !strings.Contains(canonical.Description, duplicate.Description):
		merged.SetDescription(canonical.Description + "\n\n" + duplicate.Description)
	}

	if duplicate.Location != "" && len(duplicate.Location) > len(canonical.Location) {
		merged.SetLocation(duplicate.Location)
	}

	merged.SetTags(append(append([]string(nil), canonical.Tags...), duplicate.Tags...))

	if duplicate.LastModified.After(canonical.LastModified) {
		merged.LastModified = duplicate.LastModified
	}

	metadata := make(map[string]string, len(canonical.Metadata)+2)
	for k, v := range canonical.Metadata {
		metadata[k] = v
	}
	if prior := metadata["merged_from"]; prior != "" {
		metadata["merged_from"] = prior + "," + duplicate.ID
	} else {
		metadata["merged_from"] = duplicate.ID
	}
	metadata["merge_timestamp"] = time.Now().UTC().Format(time.RFC3339)
	merged.Metadata = metadata

	duplicate.DuplicateOf = canonical.ID
	merged.UpdateFingerprint()
	return &merged
}

func (s *Service) similarityFactors(a, b *models.Event) models.FactorScores {
	return models.FactorScores{
		Title:       textSimilarity(a.Title, b.Title),
		Time:        s.timeSimilarity(a, b),
		Location:    textSimilarity(a.Location, b.Location),
		Description: textSimilarity(a.Description, b.Description),
		SameSource:  a.SourceName == b.SourceName,
		TypeMatch:   a.Type == b.Type,
	}
}

func (s *Service) confidence(f models.FactorScores) float64 {
	confidence := f.Title*s.titleWeight +
		f.Time*s.timeWeight +
		f.Location*s.locationWeight +
		f.Description*s.descriptionWeight

	if f.SameSource {
		confidence *= sameSourcePenalty
	}
	if f.TypeMatch {
		confidence *= typeMatchBoost
	}
	return math.Min(1.0, confidence)
}

func (s *Service) timeSimilarity(a, b *models.Event) float64 {
	startDiff := absDuration(a.Start.Sub(b.Start))
	durationDiff := absDuration(a.Duration() - b.Duration())

	startSim := math.Max(0, 1.0-startDiff.Seconds()/s.tolerance.Seconds())
	durationSim := math.Max(0, 1.0-durationDiff.Seconds()/maxDurationDelta.Seconds())

	return math.Min(1.0, startSim*startShare+durationSim*durationShare)
}

// candidatesFor returns events whose start lies within tolerance of the
// given event's start, drawn from its day bucket and the two adjacent
// ones, with previously known events ordered first.
func (s *Service) candidatesFor(event *models.Event, buckets map[string][]*models.Event, existingIDs map[string]bool) []*models.Event {
	var candidates []*models.Event
	day := event.Start.UTC()
	for offset := -1; offset <= 1; offset++ {
		for _, candidate := range buckets[dayKey(day.AddDate(0, 0, offset))] {
			if absDuration(candidate.Start.Sub(event.Start)) <= s.tolerance {
				candidates = append(candidates, candidate)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ei, ej := existingIDs[candidates[i].ID], existingIDs[candidates[j].ID]
		if ei != ej {
			return ei
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})
	return candidates
}

func bucketByDay(events []*models.Event) map[string][]*models.Event {
	buckets := make(map[string][]*models.Event)
	for _, event := range events {
		key := dayKey(event.Start)
		buckets[key] = append(buckets[key], event)
	}
	return buckets
}

// dayKey buckets by UTC day so the zone a source reports in cannot split
// two reports of the same instant into non-adjacent buckets.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

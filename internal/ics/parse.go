// Package ics converts between raw iCalendar documents and the internal
// event model: parsing feed payloads into normalized events, encoding the
// aggregated set back to RFC 5545 text, and validating encoded output.
package ics

import (
	"bytes"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"rostercal/models"
	"rostercal/utils"
)

// DefaultMaxEvents caps how many components are processed per source
// when the source configuration does not set its own limit.
const DefaultMaxEvents = 1000

// ParseOptions carries per-source context into a parse run.
type ParseOptions struct {
	SourceName  string
	SourceURL   string
	SourceColor string

	// MaxEvents stops processing once this many components have been
	// seen. Zero means DefaultMaxEvents.
	MaxEvents int

	// FilterKeywords keeps only events matching at least one keyword.
	// ExcludeKeywords drops matching events and wins over the filter
	// list. Both match case-insensitively against title, description,
	// and location.
	FilterKeywords  []string
	ExcludeKeywords []string
}

// ParseEvents extracts normalized events from a raw calendar document.
// Individual malformed components are logged and skipped; only a
// document that cannot be parsed at all returns an error.
func ParseEvents(data []byte, opts ParseOptions) ([]*models.Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", opts.SourceName, err)
	}

	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	var events []*models.Event
	processed := 0

	for _, ve := range cal.Events() {
		if processed >= maxEvents {
			log.Printf("[parser] reached max events limit (%d) for %s", maxEvents, opts.SourceName)
			break
		}
		processed++

		event, err := parseComponent(ve, opts)
		if err != nil {
			log.Printf("[parser] skipping event in %s: %v", opts.SourceName, err)
			continue
		}
		if shouldInclude(event, opts.FilterKeywords, opts.ExcludeKeywords) {
			events = append(events, event)
		}
	}

	return events, nil
}

func parseComponent(ve *ical.VEvent, opts ParseOptions) (*models.Event, error) {
	title := "Untitled Event"
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		title = unescapeText(p.Value)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("missing or invalid DTSTART: %w", err)
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	zoned := isZoned(dtStartProp)
	allDay := isAllDay(dtStartProp)
	if !zoned {
		start = wallClockUTC(start)
	}

	end, endErr := ve.GetEndAt()
	if endErr != nil || end.IsZero() {
		end = start.Add(time.Hour)
	} else if !isZoned(ve.GetProperty(ical.ComponentPropertyDtEnd)) {
		end = wallClockUTC(end)
	}

	event, err := models.NewEvent(title, start, end, opts.SourceName)
	if err != nil {
		return nil, err
	}
	event.AllDay = allDay
	event.SourceURL = opts.SourceURL
	event.Color = opts.SourceColor

	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		event.SetDescription(utils.StripHTML(unescapeText(p.Value)))
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		event.SetLocation(unescapeText(p.Value))
	}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		event.OriginalUID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil && n > 0 {
			event.Sequence = n
		}
	}

	rawStatus := "CONFIRMED"
	if p := ve.GetProperty("STATUS"); p != nil && p.Value != "" {
		rawStatus = strings.ToUpper(strings.TrimSpace(p.Value))
	}
	event.Status = models.ParseStatus(rawStatus)

	if p := ve.GetProperty("LAST-MODIFIED"); p != nil {
		if t, err := time.Parse("20060102T150405Z", strings.TrimSpace(p.Value)); err == nil {
			event.LastModified = t
		}
	}

	// Recurrence identifiers are carried through opaquely; the pipeline
	// does not expand feed recurrences.
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		event.RecurrenceRule = p.Value
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		event.RecurrenceID = p.Value
	}

	categories := collectCategories(ve)
	event.SetTags(categories)
	event.Type = inferEventType(title, event.Description, categories)

	event.Metadata = map[string]string{
		"rawStatus":   rawStatus,
		"hasTimezone": strconv.FormatBool(zoned),
	}

	event.UpdateFingerprint()
	return event, nil
}

// isZoned reports whether a date-time property carries timezone
// information, either a trailing Z or a TZID parameter. Floating values
// are reinterpreted as UTC wall-clock time.
func isZoned(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if strings.HasSuffix(p.Value, "Z") {
		return true
	}
	if p.ICalParameters != nil {
		if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
			return true
		}
	}
	return false
}

// isAllDay detects date-only values by the VALUE=DATE parameter or the
// absence of a time portion.
func isAllDay(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if p.ICalParameters != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// wallClockUTC keeps the literal wall-clock fields and reinterprets
// them as UTC, regardless of what location the parser attached.
func wallClockUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

func collectCategories(ve *ical.VEvent) []string {
	var out []string
	for _, p := range ve.GetProperties("CATEGORIES") {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(unescapeText(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// typeKeywords is walked in order; the first type with a matching
// keyword wins, so more specific activity words come before generic
// ones within each list.
var typeKeywords = []struct {
	eventType models.EventType
	keywords  []string
}{
	{models.EventTypeGame, []string{"game", "match", "competition", "vs", "against", "@"}},
	{models.EventTypePractice, []string{"practice", "training", "drill", "scrimmage", "workout"}},
	{models.EventTypeTournament, []string{"tournament", "championship", "cup", "classic", "invitational"}},
	{models.EventTypeMeeting, []string{"meeting", "parent", "team meeting", "coach meeting"}},
	{models.EventTypeFundraiser, []string{"fundraiser", "car wash", "bake sale", "raffle"}},
	{models.EventTypeSocial, []string{"party", "banquet", "celebration", "picnic", "bbq"}},
	{models.EventTypeTravel, []string{"travel", "departure", "bus", "carpool", "transport"}},
}

func inferEventType(title, description string, categories []string) models.EventType {
	text := strings.ToLower(title)
	if description != "" {
		text += " " + strings.ToLower(description)
	}
	if len(categories) > 0 {
		text += " " + strings.ToLower(strings.Join(categories, " "))
	}

	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(text, kw) {
				return tk.eventType
			}
		}
	}
	return ""
}

func shouldInclude(event *models.Event, filterKeywords, excludeKeywords []string) bool {
	searchable := strings.ToLower(event.Title)
	if event.Description != "" {
		searchable += " " + strings.ToLower(event.Description)
	}
	if event.Location != "" {
		searchable += " " + strings.ToLower(event.Location)
	}

	for _, kw := range excludeKeywords {
		if kw != "" && strings.Contains(searchable, strings.ToLower(kw)) {
			return false
		}
	}

	if len(filterKeywords) == 0 {
		return true
	}
	for _, kw := range filterKeywords {
		if kw != "" && strings.Contains(searchable, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n', 'N':
				b.WriteByte('\n')
			default:
				b.WriteByte(s[i])
			}
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

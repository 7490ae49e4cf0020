package ics

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"rostercal/models"
)

const (
	// ProdID identifies this generator in encoded output.
	ProdID = "-//RosterCal//RosterCal 1.0//EN"

	// uidSuffix namespaces event identifiers so re-imported feeds
	// cannot collide with the original source UIDs.
	uidSuffix = "@rostercal"

	propSource      = "X-ROSTERCAL-SOURCE"
	propOriginalUID = "X-ROSTERCAL-ORIGINAL-UID"
	propSourceURL   = "X-ROSTERCAL-SOURCE-URL"

	// maxLineOctets is the RFC 5545 content-line limit, excluding the
	// line break.
	maxLineOctets = 75

	maxSummaryRunes = 255
)

// Output is one encoded calendar document plus the caching metadata the
// HTTP layer serves alongside it.
type Output struct {
	Content     []byte
	ETag        string
	GeneratedAt time.Time
}

// Encoder serializes event sets as RFC 5545 calendar documents.
type Encoder struct {
	CalendarName string
	Description  string
	TimeZoneName string

	// Now is replaceable for tests; nil means time.Now.
	Now func() time.Time
}

// NewEncoder builds an encoder with the given display metadata. Empty
// arguments fall back to generic defaults.
func NewEncoder(name, description, timeZone string) *Encoder {
	if name == "" {
		name = "RosterCal Aggregated Calendar"
	}
	if description == "" {
		description = "Aggregated sports calendar from multiple sources"
	}
	if timeZone == "" {
		timeZone = "UTC"
	}
	return &Encoder{CalendarName: name, Description: description, TimeZoneName: timeZone}
}

func (enc *Encoder) now() time.Time {
	if enc.Now != nil {
		return enc.Now()
	}
	return time.Now()
}

// Encode serializes the events into a calendar document, preserving
// input order. The returned ETag is an MD5 of the content so identical
// event sets produce identical tags.
func (enc *Encoder) Encode(events []*models.Event) Output {
	generatedAt := enc.now().UTC()
	stamp := generatedAt.Format("20060102T150405Z")

	w := &foldWriter{}
	w.line("BEGIN:VCALENDAR")
	w.prop("VERSION", "2.0")
	w.prop("PRODID", ProdID)
	w.prop("CALSCALE", "GREGORIAN")
	w.prop("METHOD", "PUBLISH")
	w.prop("X-WR-CALNAME", escapeText(enc.CalendarName))
	w.prop("X-WR-CALDESC", escapeText(enc.Description))
	w.prop("X-WR-TIMEZONE", enc.TimeZoneName)
	w.line("REFRESH-INTERVAL;VALUE=DURATION:PT1H")
	w.prop("X-PUBLISHED-TTL", "PT1H")

	if len(events) > 0 {
		for _, tzName := range collectTimeZones(events, enc.TimeZoneName) {
			writeTimeZone(w, tzName, generatedAt.Year())
		}
	}

	for _, event := range events {
		enc.writeEvent(w, event, stamp)
	}

	w.line("END:VCALENDAR")

	content := w.bytes()
	sum := md5.Sum(content)
	return Output{
		Content:     content,
		ETag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		GeneratedAt: generatedAt,
	}
}

func (enc *Encoder) writeEvent(w *foldWriter, event *models.Event, stamp string) {
	w.line("BEGIN:VEVENT")
	w.prop("UID", EventUID(event))

	if event.AllDay {
		w.prop("DTSTART;VALUE=DATE", event.Start.Format("20060102"))
		w.prop("DTEND;VALUE=DATE", event.End.Format("20060102"))
	} else {
		w.line("DTSTART" + encodeDateTime(event.Start))
		w.line("DTEND" + encodeDateTime(event.End))
	}
	w.prop("DTSTAMP", stamp)
	w.prop("SUMMARY", escapeText(displayTitle(event)))

	if event.Description != "" {
		w.prop("DESCRIPTION", escapeText(event.Description))
	}
	if event.Location != "" {
		w.prop("LOCATION", escapeText(event.Location))
	}

	if event.SourceName != "" {
		w.prop(propSource, escapeText(event.SourceName))
	}
	if event.OriginalUID != "" {
		w.prop(propOriginalUID, escapeText(event.OriginalUID))
	}
	if event.SourceURL != "" {
		w.prop(propSourceURL, escapeText(event.SourceURL))
	}

	if event.Color != "" {
		w.prop("CATEGORIES", "Color-"+strings.ToUpper(strings.TrimPrefix(event.Color, "#")))
		w.prop("COLOR", event.Color)
		w.prop("X-APPLE-CALENDAR-COLOR", event.Color)
		w.prop("X-MICROSOFT-CDO-BUSYSTATUS", "BUSY")
	}

	if categories := eventCategories(event); len(categories) > 0 {
		escaped := make([]string, len(categories))
		for i, c := range categories {
			escaped[i] = escapeText(c)
		}
		w.prop("CATEGORIES", strings.Join(escaped, ","))
	}

	lastModified := event.LastModified
	if lastModified.IsZero() {
		lastModified = enc.now()
	}
	w.prop("LAST-MODIFIED", lastModified.UTC().Format("20060102T150405Z"))
	w.prop("SEQUENCE", fmt.Sprintf("%d", event.Sequence))
	w.prop("STATUS", statusValue(event.Status))
	w.prop("TRANSP", "OPAQUE")
	w.line("END:VEVENT")
}

// EventUID derives the encoded identifier: the source UID with the
// namespace suffix when present, otherwise a content hash so the same
// event keeps the same identifier across cycles.
func EventUID(event *models.Event) string {
	if event.OriginalUID != "" {
		return event.OriginalUID + uidSuffix
	}
	sum := md5.Sum([]byte(event.Title +
		event.Start.UTC().Format(time.RFC3339) +
		event.End.UTC().Format(time.RFC3339) +
		event.SourceName))
	return hex.EncodeToString(sum[:]) + uidSuffix
}

// displayTitle prefixes the source label unless the title already
// starts with it, then clamps the result to the summary limit.
func displayTitle(event *models.Event) string {
	title := event.Title
	if event.SourceName != "" && !strings.HasPrefix(title, "["+event.SourceName+"]") {
		title = "[" + event.SourceName + "] " + title
	}
	return truncateRunes(title, maxSummaryRunes)
}

func eventCategories(event *models.Event) []string {
	var out []string
	if event.Type != "" {
		out = append(out, titleWord(string(event.Type)))
	}
	out = append(out, event.Tags...)
	return out
}

// statusValue maps the internal status to the RFC 5545 STATUS
// enumeration. Postponed has no wire representation, so it is encoded
// as tentative, which is how clients are expected to display it.
func statusValue(status models.EventStatus) string {
	switch status {
	case models.StatusTentative, models.StatusPostponed:
		return "TENTATIVE"
	case models.StatusCancelled:
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}

// encodeDateTime renders the parameter-plus-value tail of a DTSTART or
// DTEND line: a TZID reference for events in a named zone, UTC form
// otherwise.
func encodeDateTime(t time.Time) string {
	if name := zoneName(t); name != "" {
		return ";TZID=" + name + ":" + t.Format("20060102T150405")
	}
	return ":" + t.UTC().Format("20060102T150405Z")
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// escapeText applies RFC 5545 TEXT escaping: backslash, semicolon, and
// comma are backslash-escaped, newlines become literal \n, carriage
// returns are dropped.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldWriter accumulates content lines, folding any line longer than 75
// octets onto continuation lines that begin with a single space.
// Folding happens on UTF-8 rune boundaries so multi-byte characters are
// never split across a fold.
type foldWriter struct {
	buf bytes.Buffer
}

func (w *foldWriter) prop(name, value string) {
	w.line(name + ":" + value)
}

func (w *foldWriter) line(s string) {
	first := true
	for {
		limit := maxLineOctets
		if !first {
			// Continuation lines start with a space that counts
			// toward the limit.
			limit = maxLineOctets - 1
		}
		cut := len(s)
		if cut > limit {
			cut = limit
			for cut > 0 && (s[cut]&0xC0) == 0x80 {
				cut--
			}
		}
		if !first {
			w.buf.WriteByte(' ')
		}
		w.buf.WriteString(s[:cut])
		w.buf.WriteString("\r\n")
		s = s[cut:]
		first = false
		if s == "" {
			return
		}
	}
}

func (w *foldWriter) bytes() []byte {
	return w.buf.Bytes()
}

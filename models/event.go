package models

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event by what kind of activity it is.
// Inferred from keywords during parsing; empty means unclassified.
type EventType string

const (
	EventTypeGame       EventType = "game"
	EventTypePractice   EventType = "practice"
	EventTypeTournament EventType = "tournament"
	EventTypeMeeting    EventType = "meeting"
	EventTypeFundraiser EventType = "fundraiser"
	EventTypeSocial     EventType = "social"
	EventTypeTravel     EventType = "travel"
	EventTypeOther      EventType = "other"
)

// EventStatus mirrors the iCalendar STATUS values plus "postponed",
// which some feeds report and calendar clients treat as tentative.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
	StatusPostponed EventStatus = "postponed"
)

// ParseStatus maps raw status text from a feed to an EventStatus.
// Unknown values default to confirmed.
func ParseStatus(raw string) EventStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TENTATIVE":
		return StatusTentative
	case "CANCELLED":
		return StatusCancelled
	case "POSTPONED":
		return StatusPostponed
	default:
		return StatusConfirmed
	}
}

const (
	maxTitleLength       = 255
	maxDescriptionLength = 2000
	maxLocationLength    = 255
)

var (
	// ErrEmptyTitle is returned when an event is constructed without a title.
	ErrEmptyTitle = errors.New("event title must not be empty")
	// ErrInvalidTimeRange is returned when end is not strictly after start.
	ErrInvalidTimeRange = errors.New("event end must be after start")
)

// Event is the canonical unit flowing through the aggregation pipeline.
// Created by the parser, mutated by deduplication, title formatting,
// color assignment, and overlap resolution, then encoded.
type Event struct {
	ID          string `json:"id"`
	OriginalUID string `json:"originalUid,omitempty"` // UID from the source feed, if any
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"allDay"`

	SourceName string `json:"sourceName"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	Color      string `json:"color,omitempty"` // #RRGGBB

	Type   EventType   `json:"type,omitempty"`
	Tags   []string    `json:"tags,omitempty"`
	Status EventStatus `json:"status"`

	// Sequence is the revision counter carried into the encoded output.
	// It never decreases for a given event.
	Sequence int `json:"sequence"`

	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	LastFetched  time.Time `json:"lastFetched,omitempty"`

	// Fingerprint is a stable hash over the identity-bearing fields,
	// used for change detection and duplicate bookkeeping.
	Fingerprint string `json:"fingerprint,omitempty"`

	// DuplicateOf holds the ID of the canonical event this record was
	// folded into, when deduplication discarded it.
	DuplicateOf string `json:"duplicateOf,omitempty"`

	// Recurrence identifiers are carried opaquely; the pipeline does not
	// expand them for feed events.
	RecurrenceID   string `json:"recurrenceId,omitempty"`
	RecurrenceRule string `json:"recurrenceRule,omitempty"`

	// Metadata carries merge bookkeeping (merged-from IDs, merge time).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEvent constructs a validated Event. The title is trimmed and must be
// non-empty; end must be strictly after start. Overlong text fields are
// truncated rather than rejected so a verbose feed cannot drop events.
func NewEvent(title string, start, end time.Time, sourceName string) (*Event, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if !end.After(start) {
		return nil, ErrInvalidTimeRange
	}

	now := time.Now().UTC()
	e := &Event{
		ID:           uuid.NewString(),
		Title:        truncate(title, maxTitleLength),
		Start:        start,
		End:          end,
		SourceName:   sourceName,
		Status:       StatusConfirmed,
		CreatedAt:    now,
		LastModified: now,
	}
	e.UpdateFingerprint()
	return e, nil
}

// SetDescription assigns the description, truncated to the storage limit.
func (e *Event) SetDescription(desc string) {
	e.Description = truncate(strings.TrimSpace(desc), maxDescriptionLength)
}

// SetLocation assigns the location, truncated to the storage limit.
func (e *Event) SetLocation(loc string) {
	e.Location = truncate(strings.TrimSpace(loc), maxLocationLength)
}

// SetTags replaces the tag list, removing case-insensitive duplicates
// while preserving first-seen order.
func (e *Event) SetTags(tags []string) {
	e.Tags = NormalizeTags(tags)
}

// Duration returns the event length.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsPast reports whether the event ended before now.
func (e *Event) IsPast() bool {
	return e.End.Before(time.Now())
}

// UpdateFingerprint recomputes the content fingerprint from the current
// title, start, end, location, and description. Times are normalized to
// UTC so the fingerprint is a pure function of the instant, not the zone.
func (e *Event) UpdateFingerprint() {
	sum := md5.Sum([]byte(e.Title +
		e.Start.UTC().Format(time.RFC3339Nano) +
		e.End.UTC().Format(time.RFC3339Nano) +
		e.Location +
		e.Description))
	e.Fingerprint = hex.EncodeToString(sum[:])
}

// NormalizeTags removes case-insensitive duplicates from tags,
// preserving the order of first appearance. Blank tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so truncation never produces invalid UTF-8.
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

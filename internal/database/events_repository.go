package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rostercal/models"
)

// EventsRepository persists normalized events between aggregation cycles
// so a restart can serve the last known calendar before the first fetch
// completes.
type EventsRepository struct {
	db *sql.DB
}

// NewEventsRepository creates a new events repository.
func NewEventsRepository(db *sql.DB) *EventsRepository {
	return &EventsRepository{db: db}
}

// dedupKey identifies an event within its source across cycles: the feed
// UID when the source provides one, otherwise the content fingerprint.
func dedupKey(e *models.Event) string {
	if e.OriginalUID != "" {
		return e.OriginalUID
	}
	return e.Fingerprint
}

const eventColumns = `id, source_name, source_url, original_uid, fingerprint,
	title, description, location, start_time, end_time, all_day,
	timezone_name, color, event_type, status, sequence, tags,
	recurrence_id, recurrence_rule, metadata, duplicate_of,
	created_at, last_modified, last_fetched`

// UpsertEvents stores the given events for a source, inserting new rows
// and updating rows whose dedup key is already known. Returns how many
// events were added and how many updated. Row identity is stable: an
// updated row keeps its original event ID.
func (r *EventsRepository) UpsertEvents(sourceName string, events []*models.Event) (added, updated int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, event := range events {
		key := dedupKey(event)

		var existingID string
		err := tx.QueryRow(
			`SELECT id FROM events WHERE source_name = ? AND dedup_key = ?`,
			sourceName, key,
		).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := insertEvent(tx, sourceName, key, event, now); err != nil {
				return 0, 0, fmt.Errorf("inserting event %q: %w", event.Title, err)
			}
			added++
		case err != nil:
			return 0, 0, fmt.Errorf("looking up event %q: %w", event.Title, err)
		default:
			if err := updateEvent(tx, existingID, event, now); err != nil {
				return 0, 0, fmt.Errorf("updating event %q: %w", event.Title, err)
			}
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing events: %w", err)
	}
	return added, updated, nil
}

func insertEvent(tx *sql.Tx, sourceName, key string, e *models.Event, now time.Time) error {
	tags, metadata, err := encodeJSONFields(e)
	if err != nil {
		return err
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastModified := e.LastModified
	if lastModified.IsZero() {
		lastModified = now
	}
	lastFetched := e.LastFetched
	if lastFetched.IsZero() {
		lastFetched = now
	}

	_, err = tx.Exec(`INSERT INTO events (
		id, source_name, source_url, original_uid, dedup_key, fingerprint,
		title, description, location, start_time, end_time, all_day,
		timezone_name, color, event_type, status, sequence, tags,
		recurrence_id, recurrence_rule, metadata, duplicate_of,
		created_at, last_modified, updated_at, last_fetched
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, sourceName, nullString(e.SourceURL), nullString(e.OriginalUID), key, e.Fingerprint,
		e.Title, nullString(e.Description), nullString(e.Location), e.Start.UTC(), e.End.UTC(), e.AllDay,
		zoneName(e.Start), nullString(e.Color), nullString(string(e.Type)), statusOf(e), e.Sequence, tags,
		nullString(e.RecurrenceID), nullString(e.RecurrenceRule), metadata, nullString(e.DuplicateOf),
		createdAt.UTC(), lastModified.UTC(), now, lastFetched.UTC())
	return err
}

func updateEvent(tx *sql.Tx, id string, e *models.Event, now time.Time) error {
	tags, metadata, err := encodeJSONFields(e)
	if err != nil {
		return err
	}

	lastModified := e.LastModified
	if lastModified.IsZero() {
		lastModified = now
	}
	lastFetched := e.LastFetched
	if lastFetched.IsZero() {
		lastFetched = now
	}

	// Sequence never decreases, even when a feed regresses.
	_, err = tx.Exec(`UPDATE events SET
		source_url = ?, original_uid = ?, fingerprint = ?, title = ?,
		description = ?, location = ?, start_time = ?, end_time = ?,
		all_day = ?, timezone_name = ?, color = ?, event_type = ?,
		status = ?, sequence = MAX(sequence, ?), tags = ?,
		recurrence_id = ?, recurrence_rule = ?, metadata = ?, duplicate_of = ?,
		last_modified = ?, updated_at = ?, last_fetched = ?
		WHERE id = ?`,
		nullString(e.SourceURL), nullString(e.OriginalUID), e.Fingerprint, e.Title,
		nullString(e.Description), nullString(e.Location), e.Start.UTC(), e.End.UTC(),
		e.AllDay, zoneName(e.Start), nullString(e.Color), nullString(string(e.Type)),
		statusOf(e), e.Sequence, tags,
		nullString(e.RecurrenceID), nullString(e.RecurrenceRule), metadata, nullString(e.DuplicateOf),
		lastModified.UTC(), now, lastFetched.UTC(),
		id)
	return err
}

// GetBySource returns all stored events for a source ordered by start time.
func (r *EventsRepository) GetBySource(sourceName string) ([]*models.Event, error) {
	rows, err := r.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE source_name = ? ORDER BY start_time, id`,
		sourceName)
	if err != nil {
		return nil, fmt.Errorf("querying events for %q: %w", sourceName, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetAll returns every stored event across all sources ordered by start time.
func (r *EventsRepository) GetAll() ([]*models.Event, error) {
	rows, err := r.db.Query(`SELECT ` + eventColumns + ` FROM events ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetByID returns a single event, or nil if no event has that ID.
func (r *EventsRepository) GetByID(id string) (*models.Event, error) {
	rows, err := r.db.Query(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying event %s: %w", id, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// DeleteBySource removes all events for a source, returning how many rows
// were removed. Used when a source is dropped from the configuration.
func (r *EventsRepository) DeleteBySource(sourceName string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM events WHERE source_name = ?`, sourceName)
	if err != nil {
		return 0, fmt.Errorf("deleting events for %q: %w", sourceName, err)
	}
	return res.RowsAffected()
}

// Prune removes events that ended before the cutoff.
func (r *EventsRepository) Prune(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM events WHERE end_time < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var (
			e            models.Event
			sourceURL    sql.NullString
			originalUID  sql.NullString
			description  sql.NullString
			location     sql.NullString
			timezoneName string
			color        sql.NullString
			eventType    sql.NullString
			status       string
			tagsJSON     string
			recurID      sql.NullString
			recurRule    sql.NullString
			metadataJSON string
			duplicateOf  sql.NullString
		)

		err := rows.Scan(
			&e.ID, &e.SourceName, &sourceURL, &originalUID, &e.Fingerprint,
			&e.Title, &description, &location, &e.Start, &e.End, &e.AllDay,
			&timezoneName, &color, &eventType, &status, &e.Sequence, &tagsJSON,
			&recurID, &recurRule, &metadataJSON, &duplicateOf,
			&e.CreatedAt, &e.LastModified, &e.LastFetched)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		e.SourceURL = sourceURL.String
		e.OriginalUID = originalUID.String
		e.Description = description.String
		e.Location = location.String
		e.Color = color.String
		e.Type = models.EventType(eventType.String)
		e.Status = models.EventStatus(status)
		e.RecurrenceID = recurID.String
		e.RecurrenceRule = recurRule.String
		e.DuplicateOf = duplicateOf.String

		if tagsJSON != "" && tagsJSON != "[]" {
			if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for event %s: %w", e.ID, err)
			}
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for event %s: %w", e.ID, err)
			}
		}

		restoreZone(&e, timezoneName)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// restoreZone re-attaches the stored display zone to the UTC instants that
// came back from the database. Unknown zone names leave the times in UTC.
func restoreZone(e *models.Event, name string) {
	if name == "" || name == "UTC" {
		return
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return
	}
	e.Start = e.Start.In(loc)
	e.End = e.End.In(loc)
}

// zoneName reports the IANA zone to persist for a time. Times without a
// named zone are stored as UTC.
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

func encodeJSONFields(e *models.Event) (tags, metadata string, err error) {
	tags = "[]"
	if len(e.Tags) > 0 {
		b, err := json.Marshal(e.Tags)
		if err != nil {
			return "", "", fmt.Errorf("encoding tags: %w", err)
		}
		tags = string(b)
	}

	metadata = "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(b)
	}
	return tags, metadata, nil
}

func statusOf(e *models.Event) string {
	if e.Status == "" {
		return string(models.StatusConfirmed)
	}
	return string(e.Status)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

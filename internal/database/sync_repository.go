package database

import (
	"database/sql"
	"fmt"
	"time"
)

// defaultHistoryLimit bounds history queries that do not ask for a limit.
const defaultHistoryLimit = 50

// SyncRecord captures the outcome of one fetch attempt against a source.
type SyncRecord struct {
	ID         int64
	SourceName string

	StartedAt   time.Time
	CompletedAt *time.Time

	Success     bool
	NotModified bool

	ErrorMessage      *string
	EventsFound       int
	HTTPStatus        *int
	ResponseSizeBytes *int64
	DurationMS        *int64

	CreatedAt time.Time
}

// SyncRepository records fetch attempts so operators can see when each
// source last succeeded and why it is failing.
type SyncRepository struct {
	db *sql.DB
}

// NewSyncRepository creates a new sync history repository.
func NewSyncRepository(db *sql.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

const syncColumns = `id, source_name, started_at, completed_at, success,
	not_modified, error_message, events_found, http_status,
	response_size_bytes, duration_ms, created_at`

// Add inserts a sync record and fills in its assigned ID.
func (r *SyncRepository) Add(record *SyncRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.Exec(`INSERT INTO sync_history (
		source_name, started_at, completed_at, success, not_modified,
		error_message, events_found, http_status, response_size_bytes,
		duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SourceName, record.StartedAt.UTC(), utcOrNil(record.CompletedAt),
		record.Success, record.NotModified,
		record.ErrorMessage, record.EventsFound, record.HTTPStatus,
		record.ResponseSizeBytes, record.DurationMS, record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting sync record for %q: %w", record.SourceName, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sync record id: %w", err)
	}
	record.ID = id
	return nil
}

// GetBySource returns the most recent sync records for a source, newest
// first. A non-positive limit applies the default.
func (r *SyncRepository) GetBySource(sourceName string, limit int) ([]*SyncRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.Query(
		`SELECT `+syncColumns+` FROM sync_history
		WHERE source_name = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		sourceName, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync history for %q: %w", sourceName, err)
	}
	defer rows.Close()
	return scanSyncRecords(rows)
}

// GetRecent returns the most recent sync records across all sources,
// newest first. A non-positive limit applies the default.
func (r *SyncRepository) GetRecent(limit int) ([]*SyncRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.Query(
		`SELECT `+syncColumns+` FROM sync_history
		ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync history: %w", err)
	}
	defer rows.Close()
	return scanSyncRecords(rows)
}

// LastSuccess returns the most recent successful sync for a source, or nil
// if the source has never synced successfully.
func (r *SyncRepository) LastSuccess(sourceName string) (*SyncRecord, error) {
	rows, err := r.db.Query(
		`SELECT `+syncColumns+` FROM sync_history
		WHERE source_name = ? AND success = 1
		ORDER BY started_at DESC, id DESC LIMIT 1`, sourceName)
	if err != nil {
		return nil, fmt.Errorf("querying last success for %q: %w", sourceName, err)
	}
	defer rows.Close()

	records, err := scanSyncRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Prune removes sync records started before the cutoff.
func (r *SyncRepository) Prune(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sync_history WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sync history: %w", err)
	}
	return res.RowsAffected()
}

func scanSyncRecords(rows *sql.Rows) ([]*SyncRecord, error) {
	var records []*SyncRecord
	for rows.Next() {
		var (
			rec          SyncRecord
			completedAt  sql.NullTime
			errorMessage sql.NullString
			httpStatus   sql.NullInt64
			responseSize sql.NullInt64
			durationMS   sql.NullInt64
		)

		err := rows.Scan(
			&rec.ID, &rec.SourceName, &rec.StartedAt, &completedAt, &rec.Success,
			&rec.NotModified, &errorMessage, &rec.EventsFound, &httpStatus,
			&responseSize, &durationMS, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning sync record: %w", err)
		}

		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		if errorMessage.Valid {
			s := errorMessage.String
			rec.ErrorMessage = &s
		}
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			rec.HTTPStatus = &v
		}
		if responseSize.Valid {
			v := responseSize.Int64
			rec.ResponseSizeBytes = &v
		}
		if durationMS.Valid {
			v := durationMS.Int64
			rec.DurationMS = &v
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync records: %w", err)
	}
	return records, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

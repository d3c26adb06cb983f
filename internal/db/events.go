package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/internal/db/driver"
)

// Event is an immutable, append-only audit record. The subject is a run ID
// for run-scoped events or a job ID for job-level audit events. The
// (workspace_id, subject_id, event_id) triple is the dedupe key: writing the
// same event twice is a no-op.
type Event struct {
	ID          int64
	WorkspaceID string
	SubjectID   string
	EventID     string // caller-supplied UUID
	EventType   string
	Data        json.RawMessage
	TTLSeconds  *int64
	CreatedAt   time.Time
}

// eventTimeFormat is a fixed-width UTC timestamp with nanosecond precision.
// Fixed width keeps lexicographic order equal to chronological order, which
// the time-ordered event listing relies on.
const eventTimeFormat = "2006-01-02 15:04:05.000000000"

// SaveEvent appends an event to the log. Duplicate (workspace, subject,
// event_id) writes are silently ignored; the return value reports whether a
// new row was actually inserted.
func SaveEvent(q Querier, e *Event) (bool, error) {
	createdAt := e.CreatedAt.UTC().Format(eventTimeFormat)

	var query string
	if q.Dialect() == driver.DialectSQLite {
		query = `
			INSERT OR IGNORE INTO events (workspace_id, subject_id, event_id, event_type, data, ttl_seconds, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
	} else {
		query = `
			INSERT INTO events (workspace_id, subject_id, event_id, event_type, data, ttl_seconds, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (workspace_id, subject_id, event_id) DO NOTHING
		`
	}

	result, err := q.Exec(query, e.WorkspaceID, e.SubjectID, e.EventID, e.EventType,
		rawToNull(e.Data), e.TTLSeconds, createdAt)
	if err != nil {
		return false, fmt.Errorf("save event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return true, nil
}

// ListEvents returns events for a subject in chronological order.
// A limit of 0 returns all events.
func ListEvents(q Querier, workspaceID, subjectID string, limit int) ([]Event, error) {
	query := `
		SELECT id, workspace_id, subject_id, event_id, event_type, data, ttl_seconds, created_at
		FROM events
		WHERE workspace_id = ? AND subject_id = ?
		ORDER BY created_at, id
	`
	args := []any{workspaceID, subjectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var data sql.NullString
		var ttl sql.NullInt64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.SubjectID, &e.EventID, &e.EventType,
			&data, &ttl, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		if ttl.Valid {
			v := ttl.Int64
			e.TTLSeconds = &v
		}
		e.CreatedAt = parseEventTimestamp(createdAt)

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// CountEvents returns the number of events recorded for a subject.
func CountEvents(q Querier, workspaceID, subjectID string) (int, error) {
	var count int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM events WHERE workspace_id = ? AND subject_id = ?
	`, workspaceID, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// PruneExpiredEvents deletes events whose TTL has elapsed relative to now.
// Events without a TTL are retained indefinitely.
func PruneExpiredEvents(q Querier, now time.Time) (int64, error) {
	rows, err := q.Query(`
		SELECT id, created_at, ttl_seconds FROM events WHERE ttl_seconds IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("query expiring events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []int64
	for rows.Next() {
		var id int64
		var createdAt string
		var ttl int64
		if err := rows.Scan(&id, &createdAt, &ttl); err != nil {
			return 0, fmt.Errorf("scan expiring event: %w", err)
		}
		created := parseEventTimestamp(createdAt)
		if created.IsZero() {
			continue
		}
		if created.Add(time.Duration(ttl) * time.Second).Before(now.UTC()) {
			expired = append(expired, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expiring events: %w", err)
	}

	var pruned int64
	for _, id := range expired {
		if _, err := q.Exec("DELETE FROM events WHERE id = ?", id); err != nil {
			return pruned, fmt.Errorf("delete expired event %d: %w", id, err)
		}
		pruned++
	}
	return pruned, nil
}

// parseEventTimestamp parses timestamps in descending order of precision.
// Returns zero time if parsing fails.
func parseEventTimestamp(s string) time.Time {
	formats := []string{
		eventTimeFormat,
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

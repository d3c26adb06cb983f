package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Job represents a submitted unit of work. Jobs are append-only: they are
// inserted once and never updated or deleted.
type Job struct {
	WorkspaceID      string
	ID               string // job_...
	CorrID           string // UUID correlating all derived runs and events
	Intent           string
	Inputs           json.RawMessage
	Deadline         string // ISO-8601, empty if unset
	MaxRetries       *int
	TimeoutMs        *int64
	ArtifactsDesired json.RawMessage
	PlanID           string
	CreatedBy        string
	CreatedAt        time.Time
}

// InsertJob persists a new job. Jobs are immutable, so this is a plain
// insert; a duplicate ID is an error.
func InsertJob(q Querier, j *Job) error {
	_, err := q.Exec(`
		INSERT INTO jobs (workspace_id, id, corr_id, intent, inputs, deadline, max_retries, timeout_ms, artifacts_desired, plan_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.WorkspaceID, j.ID, j.CorrID, j.Intent, rawToNull(j.Inputs), nullIfEmpty(j.Deadline),
		j.MaxRetries, j.TimeoutMs, rawToNull(j.ArtifactsDesired), nullIfEmpty(j.PlanID),
		j.CreatedBy, j.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID within a workspace. Returns nil if not found.
func GetJob(q Querier, workspaceID, jobID string) (*Job, error) {
	row := q.QueryRow(`
		SELECT workspace_id, id, corr_id, intent, inputs, deadline, max_retries, timeout_ms, artifacts_desired, plan_id, created_by, created_at
		FROM jobs WHERE workspace_id = ? AND id = ?
	`, workspaceID, jobID)

	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListJobs returns jobs for a workspace ordered newest-first.
// A limit of 0 returns all jobs.
func ListJobs(q Querier, workspaceID string, limit int) ([]Job, error) {
	query := `
		SELECT workspace_id, id, corr_id, intent, inputs, deadline, max_retries, timeout_ms, artifacts_desired, plan_id, created_by, created_at
		FROM jobs WHERE workspace_id = ?
		ORDER BY created_at DESC
	`
	args := []any{workspaceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*Job, error)       { return scanJobFrom(row) }
func scanJobRows(rows *sql.Rows) (*Job, error) { return scanJobFrom(rows) }

func scanJobFrom(sc jobScanner) (*Job, error) {
	var j Job
	var inputs, deadline, artifactsDesired, planID sql.NullString
	var maxRetries sql.NullInt64
	var timeoutMs sql.NullInt64
	var createdAt string

	if err := sc.Scan(&j.WorkspaceID, &j.ID, &j.CorrID, &j.Intent, &inputs, &deadline,
		&maxRetries, &timeoutMs, &artifactsDesired, &planID, &j.CreatedBy, &createdAt); err != nil {
		return nil, err
	}

	if inputs.Valid {
		j.Inputs = json.RawMessage(inputs.String)
	}
	if deadline.Valid {
		j.Deadline = deadline.String
	}
	if maxRetries.Valid {
		v := int(maxRetries.Int64)
		j.MaxRetries = &v
	}
	if timeoutMs.Valid {
		v := timeoutMs.Int64
		j.TimeoutMs = &v
	}
	if artifactsDesired.Valid {
		j.ArtifactsDesired = json.RawMessage(artifactsDesired.String)
	}
	if planID.Valid {
		j.PlanID = planID.String
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		j.CreatedAt = ts
	}

	return &j, nil
}

// rawToNull converts an opaque JSON payload to a nullable TEXT value.
func rawToNull(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// nullIfEmpty converts an empty string to NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

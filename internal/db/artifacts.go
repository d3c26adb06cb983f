package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Artifact is an output produced by a run, reported by the executing agent
// through the event ingest path.
type Artifact struct {
	WorkspaceID string
	ID          string
	RunID       string
	JobID       string
	Kind        string
	URI         string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

// SaveArtifact records an artifact. Re-saving the same ID updates nothing;
// artifacts are immutable once written.
func SaveArtifact(q Querier, a *Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := q.Exec(`
		INSERT INTO artifacts (workspace_id, id, run_id, job_id, kind, uri, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, id) DO NOTHING
	`, a.WorkspaceID, a.ID, a.RunID, a.JobID, a.Kind, nullIfEmpty(a.URI),
		rawToNull(a.Metadata), a.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", a.ID, err)
	}
	return nil
}

// ListArtifactsForRun returns artifacts produced by a run, oldest first.
func ListArtifactsForRun(q Querier, workspaceID, runID string) ([]Artifact, error) {
	rows, err := q.Query(`
		SELECT workspace_id, id, run_id, job_id, kind, uri, metadata, created_at
		FROM artifacts WHERE workspace_id = ? AND run_id = ?
		ORDER BY created_at, id
	`, workspaceID, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var uri, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&a.WorkspaceID, &a.ID, &a.RunID, &a.JobID, &a.Kind,
			&uri, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if uri.Valid {
			a.URI = uri.String
		}
		if metadata.Valid {
			a.Metadata = json.RawMessage(metadata.String)
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = ts
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	return artifacts, nil
}

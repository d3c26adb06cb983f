package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run represents one execution attempt of a job against one agent.
type Run struct {
	WorkspaceID       string
	ID                string // run_...
	JobID             string
	StepID            string
	AssignedTo        string
	Status            string
	Capability        string
	CapabilityVersion string
	AgentVersion      string
	Scopes            []string
	Inputs            json.RawMessage
	CorrID            string
	RetryCount        int
	ErrorCode         string
	ErrorMessage      string
	StartedAt         *time.Time
	EndedAt           *time.Time
	LastEventAt       *time.Time
	LastHeartbeatAt   *time.Time
	CommandType       string
	CommandIssuedAt   *time.Time
	CommandAckedAt    *time.Time
	CreatedAt         time.Time
}

// activeStatuses is the set of run statuses that occupy an agent
// concurrency slot. Must stay in sync with the orchestration state machine.
const activeStatuses = "('assigned', 'started', 'progress', 'blocked')"

const runColumns = `workspace_id, id, job_id, step_id, assigned_to, status, capability, capability_version, agent_version, scopes, inputs, corr_id, retry_count, error_code, error_message, started_at, ended_at, last_event_at, last_heartbeat_at, command_type, command_issued_at, command_acked_at, created_at`

// InsertRun persists a new run.
func InsertRun(q Querier, r *Run) error {
	scopesJSON, err := json.Marshal(r.Scopes)
	if err != nil {
		return fmt.Errorf("marshal run scopes: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.WorkspaceID, r.ID, r.JobID, nullIfEmpty(r.StepID), r.AssignedTo, r.Status,
		r.Capability, nullIfEmpty(r.CapabilityVersion), nullIfEmpty(r.AgentVersion),
		string(scopesJSON), rawToNull(r.Inputs), r.CorrID, r.RetryCount,
		nullIfEmpty(r.ErrorCode), nullIfEmpty(r.ErrorMessage),
		formatTimePtr(r.StartedAt), formatTimePtr(r.EndedAt),
		formatTimePtr(r.LastEventAt), formatTimePtr(r.LastHeartbeatAt),
		nullIfEmpty(r.CommandType), formatTimePtr(r.CommandIssuedAt), formatTimePtr(r.CommandAckedAt),
		r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRun rewrites the mutable fields of an existing run.
func UpdateRun(q Querier, r *Run) error {
	res, err := q.Exec(`
		UPDATE runs SET
			status = ?,
			retry_count = ?,
			error_code = ?,
			error_message = ?,
			started_at = ?,
			ended_at = ?,
			last_event_at = ?,
			last_heartbeat_at = ?,
			command_type = ?,
			command_issued_at = ?,
			command_acked_at = ?
		WHERE workspace_id = ? AND id = ?
	`, r.Status, r.RetryCount,
		nullIfEmpty(r.ErrorCode), nullIfEmpty(r.ErrorMessage),
		formatTimePtr(r.StartedAt), formatTimePtr(r.EndedAt),
		formatTimePtr(r.LastEventAt), formatTimePtr(r.LastHeartbeatAt),
		nullIfEmpty(r.CommandType), formatTimePtr(r.CommandIssuedAt), formatTimePtr(r.CommandAckedAt),
		r.WorkspaceID, r.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: no such run", r.ID)
	}
	return nil
}

// GetRun retrieves a run by ID within a workspace. Returns nil if not found.
func GetRun(q Querier, workspaceID, runID string) (*Run, error) {
	row := q.QueryRow(`
		SELECT `+runColumns+` FROM runs WHERE workspace_id = ? AND id = ?
	`, workspaceID, runID)

	r, err := scanRunFrom(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRunsForJob returns all runs created for a job, oldest first.
func ListRunsForJob(q Querier, workspaceID, jobID string) ([]Run, error) {
	rows, err := q.Query(`
		SELECT `+runColumns+` FROM runs
		WHERE workspace_id = ? AND job_id = ?
		ORDER BY created_at, id
	`, workspaceID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list runs for job %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	return collectRuns(rows)
}

// CountActiveRuns counts runs occupying a concurrency slot for the agent.
// The count is recomputed from the runs table on every call rather than
// maintained as a counter, so it can never drift from the source of truth.
func CountActiveRuns(q Querier, workspaceID, agentID string) (int, error) {
	var count int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM runs
		WHERE workspace_id = ? AND assigned_to = ? AND status IN `+activeStatuses+`
	`, workspaceID, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active runs for %s: %w", agentID, err)
	}
	return count, nil
}

// ListPendingCommandRuns returns runs assigned to the agent whose last
// command has not been acknowledged yet.
func ListPendingCommandRuns(q Querier, workspaceID, agentID string) ([]Run, error) {
	rows, err := q.Query(`
		SELECT `+runColumns+` FROM runs
		WHERE workspace_id = ? AND assigned_to = ?
		  AND command_type IS NOT NULL AND command_acked_at IS NULL
		ORDER BY command_issued_at, id
	`, workspaceID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending command runs for %s: %w", agentID, err)
	}
	defer func() { _ = rows.Close() }()

	return collectRuns(rows)
}

// ListStaleActiveRuns returns runs in an active status whose last sign of
// life (heartbeat, event, or creation) is older than the cutoff. Spans all
// workspaces; used by the liveness watchdog.
func ListStaleActiveRuns(q Querier, cutoff time.Time) ([]Run, error) {
	rows, err := q.Query(`
		SELECT `+runColumns+` FROM runs
		WHERE status IN `+activeStatuses+`
		  AND COALESCE(last_heartbeat_at, last_event_at, created_at) < ?
		ORDER BY workspace_id, id
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("list stale active runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRuns(rows)
}

// OldestQueuedRun returns the oldest queued run for the agent, or nil if
// the agent has no queued runs.
func OldestQueuedRun(q Querier, workspaceID, agentID string) (*Run, error) {
	row := q.QueryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE workspace_id = ? AND assigned_to = ? AND status = 'queued'
		ORDER BY created_at, id
		LIMIT 1
	`, workspaceID, agentID)

	r, err := scanRunFrom(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("oldest queued run for %s: %w", agentID, err)
	}
	return r, nil
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		r, err := scanRunFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRunFrom(sc jobScanner) (*Run, error) {
	var r Run
	var stepID, capabilityVersion, agentVersion, inputs sql.NullString
	var errorCode, errorMessage, commandType sql.NullString
	var scopesJSON string
	var startedAt, endedAt, lastEventAt, lastHeartbeatAt sql.NullString
	var commandIssuedAt, commandAckedAt sql.NullString
	var createdAt string

	if err := sc.Scan(&r.WorkspaceID, &r.ID, &r.JobID, &stepID, &r.AssignedTo, &r.Status,
		&r.Capability, &capabilityVersion, &agentVersion, &scopesJSON, &inputs, &r.CorrID,
		&r.RetryCount, &errorCode, &errorMessage, &startedAt, &endedAt, &lastEventAt,
		&lastHeartbeatAt, &commandType, &commandIssuedAt, &commandAckedAt, &createdAt); err != nil {
		return nil, err
	}

	if stepID.Valid {
		r.StepID = stepID.String
	}
	if capabilityVersion.Valid {
		r.CapabilityVersion = capabilityVersion.String
	}
	if agentVersion.Valid {
		r.AgentVersion = agentVersion.String
	}
	if inputs.Valid {
		r.Inputs = json.RawMessage(inputs.String)
	}
	if errorCode.Valid {
		r.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		r.ErrorMessage = errorMessage.String
	}
	if commandType.Valid {
		r.CommandType = commandType.String
	}
	if scopesJSON != "" {
		if err := json.Unmarshal([]byte(scopesJSON), &r.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal run scopes: %w", err)
		}
	}

	r.StartedAt = parseTimePtr(startedAt)
	r.EndedAt = parseTimePtr(endedAt)
	r.LastEventAt = parseTimePtr(lastEventAt)
	r.LastHeartbeatAt = parseTimePtr(lastHeartbeatAt)
	r.CommandIssuedAt = parseTimePtr(commandIssuedAt)
	r.CommandAckedAt = parseTimePtr(commandAckedAt)
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = ts
	}

	return &r, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, ns.String); err == nil {
		return &ts
	}
	return nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent represents an external worker registered in a workspace. The
// orchestration core reads agent records for validation and capacity checks;
// it never executes anything itself.
type Agent struct {
	WorkspaceID    string          `json:"workspace_id"`
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Capabilities   []string        `json:"capabilities"`
	Version        string          `json:"version,omitempty"`
	IsActive       bool            `json:"is_active"`
	MaxConcurrency int             `json:"max_concurrency"`
	Config         json.RawMessage `json:"config,omitempty"`
	LastSeenAt     *time.Time      `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasCapability reports whether the agent advertises the capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// SaveAgent saves or updates an agent record.
func SaveAgent(q Querier, a *Agent) error {
	capsJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal agent capabilities: %w", err)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if a.MaxConcurrency <= 0 {
		a.MaxConcurrency = 1
	}

	_, err = q.Exec(`
		INSERT INTO agents (workspace_id, id, name, capabilities, version, is_active, max_concurrency, config, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, id) DO UPDATE SET
			name = excluded.name,
			capabilities = excluded.capabilities,
			version = excluded.version,
			is_active = excluded.is_active,
			max_concurrency = excluded.max_concurrency,
			config = excluded.config,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`, a.WorkspaceID, a.ID, nullIfEmpty(a.Name), string(capsJSON), nullIfEmpty(a.Version),
		a.IsActive, a.MaxConcurrency, rawToNull(a.Config), formatTimePtr(a.LastSeenAt),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}

	return nil
}

// GetAgent retrieves an agent by ID within a workspace. Returns nil if not found.
func GetAgent(q Querier, workspaceID, agentID string) (*Agent, error) {
	row := q.QueryRow(`
		SELECT workspace_id, id, name, capabilities, version, is_active, max_concurrency, config, last_seen_at, created_at, updated_at
		FROM agents WHERE workspace_id = ? AND id = ?
	`, workspaceID, agentID)

	a, err := scanAgentFrom(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return a, nil
}

// ListAgents returns all agents in a workspace ordered by ID.
func ListAgents(q Querier, workspaceID string) ([]Agent, error) {
	rows, err := q.Query(`
		SELECT workspace_id, id, name, capabilities, version, is_active, max_concurrency, config, last_seen_at, created_at, updated_at
		FROM agents WHERE workspace_id = ?
		ORDER BY id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgentFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	return agents, nil
}

// TouchAgent updates an agent's last-seen timestamp.
func TouchAgent(q Querier, workspaceID, agentID string, seenAt time.Time) error {
	_, err := q.Exec(`
		UPDATE agents SET last_seen_at = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?
	`, seenAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
		workspaceID, agentID)
	if err != nil {
		return fmt.Errorf("touch agent %s: %w", agentID, err)
	}
	return nil
}

func scanAgentFrom(sc jobScanner) (*Agent, error) {
	var a Agent
	var name, capsJSON, version, config sql.NullString
	var lastSeenAt sql.NullString
	var createdAt, updatedAt string

	if err := sc.Scan(&a.WorkspaceID, &a.ID, &name, &capsJSON, &version, &a.IsActive,
		&a.MaxConcurrency, &config, &lastSeenAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if name.Valid {
		a.Name = name.String
	}
	if version.Valid {
		a.Version = version.String
	}
	if config.Valid {
		a.Config = json.RawMessage(config.String)
	}
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal agent capabilities: %w", err)
		}
	}
	a.LastSeenAt = parseTimePtr(lastSeenAt)
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		a.UpdatedAt = ts
	}

	return &a, nil
}

package db

import (
	"fmt"
	"time"
)

// Member represents a user's membership in a workspace.
type Member struct {
	WorkspaceID string
	UserID      string
	Role        string // owner, admin, member
	AddedAt     time.Time
}

// AddMember records a workspace membership. Re-adding an existing member
// updates the role.
func AddMember(q Querier, m *Member) error {
	role := m.Role
	if role == "" {
		role = "member"
	}
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now().UTC()
	}

	_, err := q.Exec(`
		INSERT INTO workspace_members (workspace_id, user_id, role, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, user_id) DO UPDATE SET
			role = excluded.role
	`, m.WorkspaceID, m.UserID, role, m.AddedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add member %s: %w", m.UserID, err)
	}
	return nil
}

// IsMember reports whether the user belongs to the workspace.
func IsMember(q Querier, workspaceID, userID string) (bool, error) {
	var count int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM workspace_members WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

// RemoveMember deletes a workspace membership.
func RemoveMember(q Querier, workspaceID, userID string) error {
	_, err := q.Exec(`
		DELETE FROM workspace_members WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove member %s: %w", userID, err)
	}
	return nil
}

// ListMembers returns all members of a workspace ordered by user ID.
func ListMembers(q Querier, workspaceID string) ([]Member, error) {
	rows, err := q.Query(`
		SELECT workspace_id, user_id, role, added_at
		FROM workspace_members WHERE workspace_id = ?
		ORDER BY user_id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []Member
	for rows.Next() {
		var m Member
		var addedAt string
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &addedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, addedAt); err == nil {
			m.AddedAt = ts
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

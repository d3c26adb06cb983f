// Package workspace provides tenant membership lookups and authorization.
//
// Every orchestration operation names a workspace and a calling user; the
// caller must be a member of that workspace or the operation is denied with
// no state change.
package workspace

import (
	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
)

// Directory answers membership questions against the store.
type Directory struct {
	store *db.Store
}

// NewDirectory creates a membership directory over the store.
func NewDirectory(store *db.Store) *Directory {
	return &Directory{store: store}
}

// RequireMember returns a PERMISSION_DENIED error if the user is not a
// member of the workspace.
func (d *Directory) RequireMember(workspaceID, userID string) error {
	if workspaceID == "" {
		return errors.ErrInvalidArgument("workspaceId", "required")
	}
	if userID == "" {
		return errors.ErrInvalidArgument("userId", "required")
	}

	ok, err := db.IsMember(d.store, workspaceID, userID)
	if err != nil {
		return errors.Wrap(err, "check workspace membership")
	}
	if !ok {
		return errors.ErrPermissionDenied(userID, workspaceID)
	}
	return nil
}

// AddMember grants a user membership in a workspace.
func (d *Directory) AddMember(workspaceID, userID, role string) error {
	return db.AddMember(d.store, &db.Member{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        role,
	})
}

// RemoveMember revokes a user's membership.
func (d *Directory) RemoveMember(workspaceID, userID string) error {
	return db.RemoveMember(d.store, workspaceID, userID)
}

// Members lists the workspace's members.
func (d *Directory) Members(workspaceID string) ([]db.Member, error) {
	return db.ListMembers(d.store, workspaceID)
}

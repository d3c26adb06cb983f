package workspace

import (
	"errors"
	"testing"

	"github.com/pulsehq/pulse/internal/db"
	pulseerrors "github.com/pulsehq/pulse/internal/errors"
)

func TestRequireMember(t *testing.T) {
	t.Parallel()
	store := db.NewTestStore(t)
	dir := NewDirectory(store)

	if err := dir.AddMember("ws_1", "user_a", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if err := dir.RequireMember("ws_1", "user_a"); err != nil {
		t.Errorf("member should pass: %v", err)
	}

	err := dir.RequireMember("ws_1", "user_b")
	if err == nil {
		t.Fatal("non-member should be denied")
	}
	if !errors.Is(err, pulseerrors.ErrPermissionDenied("user_b", "ws_1")) {
		t.Errorf("want PERMISSION_DENIED, got %v", err)
	}

	// Membership is per workspace, not global.
	if err := dir.RequireMember("ws_2", "user_a"); err == nil {
		t.Error("member of ws_1 should be denied in ws_2")
	}
}

func TestRequireMemberValidation(t *testing.T) {
	t.Parallel()
	store := db.NewTestStore(t)
	dir := NewDirectory(store)

	if err := dir.RequireMember("", "user_a"); err == nil {
		t.Error("empty workspace ID should be rejected")
	}
	if err := dir.RequireMember("ws_1", ""); err == nil {
		t.Error("empty user ID should be rejected")
	}
}

func TestRemoveMember(t *testing.T) {
	t.Parallel()
	store := db.NewTestStore(t)
	dir := NewDirectory(store)

	if err := dir.AddMember("ws_1", "user_a", "admin"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := dir.RemoveMember("ws_1", "user_a"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if err := dir.RequireMember("ws_1", "user_a"); err == nil {
		t.Error("removed member should be denied")
	}
}

package orchestration

import (
	"testing"

	"github.com/google/uuid"
)

func TestIDFormats(t *testing.T) {
	t.Parallel()

	if id := NewJobID(); !IsJobID(id) {
		t.Errorf("NewJobID() = %q, not a valid job ID", id)
	}
	if id := NewRunID(); !IsRunID(id) {
		t.Errorf("NewRunID() = %q, not a valid run ID", id)
	}
	if _, err := uuid.Parse(NewCorrID()); err != nil {
		t.Errorf("NewCorrID() should be a UUID: %v", err)
	}
}

func TestIDUniqueness(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("duplicate job ID %q", id)
		}
		seen[id] = true
	}
}

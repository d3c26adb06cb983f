package orchestration

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// NewJobID generates a workspace-unique job identifier.
func NewJobID() string {
	return "job_" + randomSuffix()
}

// NewRunID generates a workspace-unique run identifier.
func NewRunID() string {
	return "run_" + randomSuffix()
}

// NewCorrID generates a correlation token shared by a job and everything
// derived from it.
func NewCorrID() string {
	return uuid.NewString()
}

// NewEventID generates an event identifier for audit records the core
// writes itself. Agent-reported events carry their own caller-supplied IDs.
func NewEventID() string {
	return uuid.NewString()
}

func randomSuffix() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

var (
	jobIDPattern = regexp.MustCompile(`^job_[0-9a-f]{32}$`)
	runIDPattern = regexp.MustCompile(`^run_[0-9a-f]{32}$`)
)

// IsJobID reports whether s looks like a generated job identifier.
func IsJobID(s string) bool { return jobIDPattern.MatchString(s) }

// IsRunID reports whether s looks like a generated run identifier.
func IsRunID(s string) bool { return runIDPattern.MatchString(s) }

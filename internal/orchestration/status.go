package orchestration

// Status is the run state machine.
//
// The normal path is queued → assigned → started → progress → blocked →
// paused → completed. queued is used only while the agent is at capacity;
// assigned is the normal entry state. failed and timed_out are terminal
// error states reachable from any active state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAssigned  Status = "assigned"
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusBlocked   Status = "blocked"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Active reports whether the status occupies an agent concurrency slot.
func (s Status) Active() bool {
	switch s {
	case StatusAssigned, StatusStarted, StatusProgress, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether the status is final. Terminal runs never change
// status again; retryRun creates the appearance of reuse by resetting a
// failed run to queued, which is the one sanctioned exception.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is a known run status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusAssigned, StatusStarted, StatusProgress,
		StatusBlocked, StatusPaused, StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Package events provides event types and publishing infrastructure for pulse.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// Audit events recorded by the orchestration core itself.

	// EventJobCreated indicates a job was accepted for execution.
	EventJobCreated EventType = "orchestration_job_created"
	// EventRunAssigned indicates a run was bound to an agent.
	EventRunAssigned EventType = "orchestration_run_assigned"

	// Command events emitted when control operations are issued or settled.

	// EventRunPause indicates a pause was requested for a run.
	EventRunPause EventType = "run.pause"
	// EventRunResume indicates a resume was requested for a run.
	EventRunResume EventType = "run.resume"
	// EventRunCancel indicates a cancel was issued for a run.
	EventRunCancel EventType = "run.cancel"
	// EventRunRetry indicates a retry was issued for a run.
	EventRunRetry EventType = "run.retry"
	// EventCommandAcked indicates an agent acknowledged a pending command.
	EventCommandAcked EventType = "command.acked"

	// Lifecycle events reported by executing agents through the ingest path.

	// EventRunStarted indicates the agent began executing the run.
	EventRunStarted EventType = "run.started"
	// EventRunProgress indicates incremental progress on the run.
	EventRunProgress EventType = "run.progress"
	// EventRunBlocked indicates the run is waiting on an external dependency.
	EventRunBlocked EventType = "run.blocked"
	// EventRunPaused indicates the agent honored a pause request.
	EventRunPaused EventType = "run.paused"
	// EventRunResumed indicates the agent resumed after a pause.
	EventRunResumed EventType = "run.resumed"
	// EventRunCompleted indicates the run finished successfully.
	EventRunCompleted EventType = "run.completed"
	// EventRunFailed indicates the run finished with an error.
	EventRunFailed EventType = "run.failed"
	// EventRunHeartbeat indicates the agent is still working the run.
	EventRunHeartbeat EventType = "run.heartbeat"
	// EventRunArtifact indicates the agent produced an output artifact.
	EventRunArtifact EventType = "run.artifact"
	// EventRunTimeout indicates the watchdog marked the run timed out.
	EventRunTimeout EventType = "run.timeout"
)

// Event represents a published event.
type Event struct {
	Type        EventType `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	SubjectID   string    `json:"subject_id"`
	EventID     string    `json:"event_id,omitempty"`
	Data        any       `json:"data"`
	Time        time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, workspaceID, subjectID string, data any) Event {
	return Event{
		Type:        eventType,
		WorkspaceID: workspaceID,
		SubjectID:   subjectID,
		Data:        data,
		Time:        time.Now(),
	}
}

// CommandData carries the payload of a command event.
type CommandData struct {
	CommandType string `json:"command_type"`
	Reason      string `json:"reason,omitempty"`
	IssuedBy    string `json:"issued_by,omitempty"`
	IssuedAt    string `json:"issued_at"`
}

// AckData carries the payload of a command acknowledgment event.
type AckData struct {
	CommandType string `json:"command_type"`
	AgentID     string `json:"agent_id"`
	AckedAt     string `json:"acked_at"`
}

// AssignmentData carries the payload of a run assignment event.
type AssignmentData struct {
	JobID   string `json:"job_id"`
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
}

// TerminalData carries the payload of a terminal lifecycle event.
type TerminalData struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

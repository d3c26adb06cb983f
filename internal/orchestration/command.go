package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
	"github.com/pulsehq/pulse/internal/events"
)

// Command types stored in a run's lastCommand slot.
const (
	CommandPause  = "run.pause"
	CommandResume = "run.resume"
	CommandCancel = "run.cancel"
	CommandRetry  = "run.retry"
)

// CommandResult is the soft-failure channel for commands. Illegal state
// transitions are expected, racy outcomes (the agent may finish before the
// command arrives), so they come back as ok=false rather than an error.
type CommandResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Command is a run's last control instruction. A run tracks at most one:
// issuing a new command overwrites the previous one even if unacknowledged
// (latest command wins).
type Command struct {
	Type           string     `json:"type"`
	IssuedAt       time.Time  `json:"issuedAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// PendingCommand is one entry in an agent's command poll response.
type PendingCommand struct {
	RunID    string    `json:"runId"`
	Command  string    `json:"command"`
	IssuedAt time.Time `json:"issuedAt"`
}

// CommandStatus reports a run's command slot.
type CommandStatus struct {
	LastCommand *Command `json:"lastCommand"`
	IsPending   bool     `json:"isPending"`
}

// commandGuards lists the legal source states per command. cancel is legal
// from any non-terminal state; pause and resume only make sense while the
// agent could still honor them; retry only applies to failed runs.
var commandGuards = map[string][]Status{
	CommandPause:  {StatusAssigned, StatusStarted, StatusProgress, StatusBlocked},
	CommandResume: {StatusPaused},
	CommandCancel: {StatusQueued, StatusAssigned, StatusStarted, StatusProgress, StatusBlocked, StatusPaused},
	CommandRetry:  {StatusFailed},
}

func commandAllowed(command string, status Status) bool {
	for _, s := range commandGuards[command] {
		if s == status {
			return true
		}
	}
	return false
}

func deniedResult(verb string, status Status) *CommandResult {
	return &CommandResult{
		OK:    false,
		Error: fmt.Sprintf("Cannot %s run in %s state", verb, status),
	}
}

// ackData is the audit payload of a command.acked event.
type ackData struct {
	Command        string `json:"command"`
	AcknowledgedAt string `json:"acknowledgedAt"`
}

// pauseData is the audit payload of a run.pause event.
type pauseData struct {
	Reason string `json:"reason,omitempty"`
}

// cancelData is the audit payload of a run.cancel event.
type cancelData struct {
	Reason string `json:"reason,omitempty"`
}

// PauseRun requests that the agent pause the run. Pause is advisory: only
// the agent owns the execution loop, so the status does not change here.
// The run's command slot is set and the agent discovers it by polling.
func (s *Service) PauseRun(ctx context.Context, workspaceID, userID, runID, reason string) (*CommandResult, error) {
	return s.issueAdvisory(ctx, workspaceID, userID, runID, CommandPause, "pause",
		events.EventRunPause, pauseData{Reason: reason})
}

// ResumeRun requests that the agent resume a paused run.
func (s *Service) ResumeRun(ctx context.Context, workspaceID, userID, runID string) (*CommandResult, error) {
	return s.issueAdvisory(ctx, workspaceID, userID, runID, CommandResume, "resume",
		events.EventRunResume, struct{}{})
}

func (s *Service) issueAdvisory(ctx context.Context, workspaceID, userID, runID, command, verb string, eventType events.EventType, data any) (*CommandResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	var result *CommandResult
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		run, err := db.GetRun(tx, workspaceID, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound(runID)
		}
		if !commandAllowed(command, Status(run.Status)) {
			result = deniedResult(verb, Status(run.Status))
			return nil
		}

		now := s.now().UTC()
		run.CommandType = command
		run.CommandIssuedAt = &now
		run.CommandAckedAt = nil
		if err := db.UpdateRun(tx, run); err != nil {
			return err
		}

		ev, err := s.appendAudit(tx, workspaceID, runID, eventType, data)
		if err != nil {
			return err
		}
		published = append(published, ev)

		result = &CommandResult{OK: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(published)

	if result.OK {
		s.logger.Info("command issued",
			"workspace", workspaceID, "run", runID, "command", command)
	}
	return result, nil
}

// CancelRun forces the run to failed immediately. Cancellation is
// authoritative: the bookkeeping state does not wait for the agent, which
// learns about the cancel through the pending-command poll and may keep
// executing briefly after this call returns.
func (s *Service) CancelRun(ctx context.Context, workspaceID, userID, runID, reason string) (*CommandResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	var result *CommandResult
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		run, err := db.GetRun(tx, workspaceID, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound(runID)
		}
		if !commandAllowed(CommandCancel, Status(run.Status)) {
			result = deniedResult("cancel", Status(run.Status))
			return nil
		}

		now := s.now().UTC()
		run.Status = string(StatusFailed)
		run.ErrorCode = "AGENT_ERROR"
		run.ErrorMessage = "Cancelled: " + reason
		run.EndedAt = &now
		run.CommandType = CommandCancel
		run.CommandIssuedAt = &now
		run.CommandAckedAt = nil
		if err := db.UpdateRun(tx, run); err != nil {
			return err
		}

		ev, err := s.appendAudit(tx, workspaceID, runID, events.EventRunCancel,
			cancelData{Reason: reason})
		if err != nil {
			return err
		}
		published = append(published, ev)

		// The cancelled run freed a concurrency slot.
		promoted, err := s.promoteOldestQueued(tx, workspaceID, run.AssignedTo)
		if err != nil {
			return err
		}
		if promoted != nil {
			published = append(published, *promoted)
		}

		result = &CommandResult{OK: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(published)

	if result.OK {
		s.logger.Info("run cancelled",
			"workspace", workspaceID, "run", runID, "reason", reason)
	}
	return result, nil
}

// RetryRun resets a failed run to queued for another attempt. The retry
// ceiling comes from the job's constraints (default 3); once reached the
// run is left untouched and the caller gets ok=false.
func (s *Service) RetryRun(ctx context.Context, workspaceID, userID, runID string) (*CommandResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	var result *CommandResult
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		run, err := db.GetRun(tx, workspaceID, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound(runID)
		}
		if !commandAllowed(CommandRetry, Status(run.Status)) {
			result = deniedResult("retry", Status(run.Status))
			return nil
		}

		maxRetries := s.defaultMaxRetries
		job, err := db.GetJob(tx, workspaceID, run.JobID)
		if err != nil {
			return err
		}
		if job != nil && job.MaxRetries != nil {
			maxRetries = *job.MaxRetries
		}
		if run.RetryCount >= maxRetries {
			result = &CommandResult{
				OK:    false,
				Error: fmt.Sprintf("Maximum retry limit (%d) reached", maxRetries),
			}
			return nil
		}

		run.Status = string(StatusQueued)
		run.RetryCount++
		run.ErrorCode = ""
		run.ErrorMessage = ""
		run.EndedAt = nil
		run.CommandType = ""
		run.CommandIssuedAt = nil
		run.CommandAckedAt = nil
		if err := db.UpdateRun(tx, run); err != nil {
			return err
		}

		result = &CommandResult{OK: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.OK {
		s.logger.Info("run queued for retry", "workspace", workspaceID, "run", runID)
	}
	return result, nil
}

// AcknowledgeCommand records that the agent saw the run's pending command
// and emits a command.acked event. The commandType must match the pending
// command; a stale or mismatched acknowledgment is a soft failure.
func (s *Service) AcknowledgeCommand(ctx context.Context, workspaceID, userID, runID, commandType string) (*CommandResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	var result *CommandResult
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		run, err := db.GetRun(tx, workspaceID, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound(runID)
		}
		if run.CommandType != commandType || run.CommandAckedAt != nil {
			result = &CommandResult{
				OK:    false,
				Error: fmt.Sprintf("No pending %s command for this run", commandType),
			}
			return nil
		}

		now := s.now().UTC()
		run.CommandAckedAt = &now
		if err := db.UpdateRun(tx, run); err != nil {
			return err
		}

		ev, err := s.appendAudit(tx, workspaceID, runID, events.EventCommandAcked,
			ackData{Command: commandType, AcknowledgedAt: now.Format(time.RFC3339)})
		if err != nil {
			return err
		}
		published = append(published, ev)

		result = &CommandResult{OK: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(published)

	return result, nil
}

// ListPendingCommands returns the unacknowledged commands across all runs
// assigned to the agent, oldest first. This poll is how agents discover
// pause, resume, and cancel instructions.
func (s *Service) ListPendingCommands(workspaceID, userID, agentID string) ([]PendingCommand, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	runs, err := db.ListPendingCommandRuns(s.store, workspaceID, agentID)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingCommand, 0, len(runs))
	for _, run := range runs {
		if run.CommandIssuedAt == nil {
			continue
		}
		pending = append(pending, PendingCommand{
			RunID:    run.ID,
			Command:  run.CommandType,
			IssuedAt: *run.CommandIssuedAt,
		})
	}
	return pending, nil
}

// GetCommandStatus reports a run's command slot and whether it is awaiting
// acknowledgment.
func (s *Service) GetCommandStatus(workspaceID, userID, runID string) (*CommandStatus, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	run, err := db.GetRun(s.store, workspaceID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.ErrRunNotFound(runID)
	}

	if run.CommandType == "" || run.CommandIssuedAt == nil {
		return &CommandStatus{LastCommand: nil, IsPending: false}, nil
	}
	return &CommandStatus{
		LastCommand: &Command{
			Type:           run.CommandType,
			IssuedAt:       *run.CommandIssuedAt,
			AcknowledgedAt: run.CommandAckedAt,
		},
		IsPending: run.CommandAckedAt == nil,
	}, nil
}

package orchestration

import (
	"context"
	"encoding/json"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
	"github.com/pulsehq/pulse/internal/events"
)

// AssignRunRequest binds a job to an agent and capability.
type AssignRunRequest struct {
	JobID      string          `json:"jobId"`
	AgentID    string          `json:"agentId"`
	Capability string          `json:"capability"`
	Inputs     json.RawMessage `json:"inputs,omitempty"`
	Scopes     []string        `json:"scopes,omitempty"`
	StepID     string          `json:"stepId,omitempty"`
}

// AssignRunResult identifies the created run and its entry status.
type AssignRunResult struct {
	RunID  string `json:"runId"`
	Status Status `json:"status"`
}

// runAssignedData is the audit payload of an orchestration_run_assigned event.
type runAssignedData struct {
	JobID      string `json:"jobId"`
	AgentID    string `json:"agentId"`
	Capability string `json:"capability"`
}

// AssignRun creates a run binding the job to the agent. If the agent is at
// its concurrency limit the run enters queued instead of assigned. The
// capacity check and the run insert share one transaction so two concurrent
// assignments cannot both claim the last slot.
func (s *Service) AssignRun(ctx context.Context, workspaceID, userID string, req AssignRunRequest) (*AssignRunResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	if req.JobID == "" {
		return nil, errors.ErrInvalidArgument("jobId", "required")
	}
	if req.AgentID == "" {
		return nil, errors.ErrInvalidArgument("agentId", "required")
	}
	if req.Capability == "" {
		return nil, errors.ErrInvalidArgument("capability", "required")
	}

	var result AssignRunResult
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		job, err := db.GetJob(tx, workspaceID, req.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return errors.ErrJobNotFound(req.JobID)
		}

		agent, err := db.GetAgent(tx, workspaceID, req.AgentID)
		if err != nil {
			return err
		}
		if agent == nil || !agent.IsActive {
			return errors.ErrAgentUnavailable(req.AgentID)
		}
		if !agent.HasCapability(req.Capability) {
			return errors.ErrCapabilityUnsupported(req.AgentID, req.Capability)
		}

		active, err := db.CountActiveRuns(tx, workspaceID, req.AgentID)
		if err != nil {
			return err
		}
		status := StatusAssigned
		if active >= agent.MaxConcurrency {
			status = StatusQueued
		}

		run := &db.Run{
			WorkspaceID:  workspaceID,
			ID:           NewRunID(),
			JobID:        job.ID,
			StepID:       req.StepID,
			AssignedTo:   req.AgentID,
			Status:       string(status),
			Capability:   req.Capability,
			AgentVersion: agent.Version,
			Scopes:       req.Scopes,
			Inputs:       req.Inputs,
			CorrID:       job.CorrID,
			RetryCount:   0,
			CreatedAt:    s.now().UTC(),
		}
		if err := db.InsertRun(tx, run); err != nil {
			return err
		}

		ev, err := s.appendAudit(tx, workspaceID, run.ID, events.EventRunAssigned,
			runAssignedData{JobID: job.ID, AgentID: req.AgentID, Capability: req.Capability})
		if err != nil {
			return err
		}
		published = append(published, ev)

		result = AssignRunResult{RunID: run.ID, Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(published)

	s.logger.Info("run assigned",
		"workspace", workspaceID,
		"run", result.RunID,
		"job", req.JobID,
		"agent", req.AgentID,
		"status", result.Status)

	return &result, nil
}

// QueryRun returns a run record.
func (s *Service) QueryRun(workspaceID, userID, runID string) (*db.Run, error) {
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
	return run, nil
}

// ListRunsForJob returns all runs created for a job, oldest first.
func (s *Service) ListRunsForJob(workspaceID, userID, jobID string) ([]db.Run, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	job, err := db.GetJob(s.store, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.ErrJobNotFound(jobID)
	}
	return db.ListRunsForJob(s.store, workspaceID, jobID)
}

// promoteOldestQueued moves the agent's oldest queued run to assigned if a
// concurrency slot is free. Called inside the same transaction as whatever
// freed the slot. Returns the audit event to publish, or nil if nothing was
// promoted.
func (s *Service) promoteOldestQueued(tx *db.TxOps, workspaceID, agentID string) (*events.Event, error) {
	if agentID == "" {
		return nil, nil
	}

	agent, err := db.GetAgent(tx, workspaceID, agentID)
	if err != nil || agent == nil {
		return nil, err
	}

	active, err := db.CountActiveRuns(tx, workspaceID, agentID)
	if err != nil {
		return nil, err
	}
	if active >= agent.MaxConcurrency {
		return nil, nil
	}

	next, err := db.OldestQueuedRun(tx, workspaceID, agentID)
	if err != nil || next == nil {
		return nil, err
	}

	next.Status = string(StatusAssigned)
	if err := db.UpdateRun(tx, next); err != nil {
		return nil, err
	}

	ev, err := s.appendAudit(tx, workspaceID, next.ID, events.EventRunAssigned,
		runAssignedData{JobID: next.JobID, AgentID: agentID, Capability: next.Capability})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

package orchestration

import (
	"context"
	"encoding/json"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
	"github.com/pulsehq/pulse/internal/events"
)

// Constraints bound a job's execution.
type Constraints struct {
	Deadline   string `json:"deadline,omitempty"` // ISO-8601
	MaxRetries *int   `json:"maxRetries,omitempty"`
	TimeoutMs  *int64 `json:"timeout,omitempty"`
}

// SubmitJobRequest describes a unit of work to accept.
type SubmitJobRequest struct {
	Intent           string          `json:"intent"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	Constraints      *Constraints    `json:"constraints,omitempty"`
	ArtifactsDesired json.RawMessage `json:"artifactsDesired,omitempty"`
	PlanID           string          `json:"planId,omitempty"`
}

// SubmitJobResult identifies the accepted job.
type SubmitJobResult struct {
	JobID  string `json:"jobId"`
	CorrID string `json:"corrId"`
}

// jobCreatedData is the audit payload of an orchestration_job_created event.
type jobCreatedData struct {
	Intent string `json:"intent"`
	CorrID string `json:"corrId"`
}

// SubmitJob accepts a unit of work for the workspace. The caller must be a
// workspace member and within the workspace's submission rate limit. The job
// record and its orchestration_job_created audit event are written in one
// transaction.
func (s *Service) SubmitJob(ctx context.Context, workspaceID, userID string, req SubmitJobRequest) (*SubmitJobResult, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	if req.Intent == "" {
		return nil, errors.ErrInvalidArgument("intent", "required")
	}
	if !s.limiter.Allow(workspaceID) {
		return nil, errors.ErrRateLimitExceeded()
	}

	job := &db.Job{
		WorkspaceID:      workspaceID,
		ID:               NewJobID(),
		CorrID:           NewCorrID(),
		Intent:           req.Intent,
		Inputs:           req.Inputs,
		ArtifactsDesired: req.ArtifactsDesired,
		PlanID:           req.PlanID,
		CreatedBy:        userID,
		CreatedAt:        s.now().UTC(),
	}
	if req.Constraints != nil {
		job.Deadline = req.Constraints.Deadline
		job.MaxRetries = req.Constraints.MaxRetries
		job.TimeoutMs = req.Constraints.TimeoutMs
	}

	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		if err := db.InsertJob(tx, job); err != nil {
			return err
		}
		ev, err := s.appendAudit(tx, workspaceID, job.ID, events.EventJobCreated,
			jobCreatedData{Intent: job.Intent, CorrID: job.CorrID})
		if err != nil {
			return err
		}
		published = append(published, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(published)

	s.logger.Info("job submitted",
		"workspace", workspaceID,
		"job", job.ID,
		"intent", job.Intent,
		"user", userID)

	return &SubmitJobResult{JobID: job.ID, CorrID: job.CorrID}, nil
}

// QueryJob returns a job record.
func (s *Service) QueryJob(workspaceID, userID, jobID string) (*db.Job, error) {
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
	return job, nil
}

// ListJobs returns the workspace's jobs newest-first. A limit of 0 returns
// all jobs.
func (s *Service) ListJobs(workspaceID, userID string, limit int) ([]db.Job, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	return db.ListJobs(s.store, workspaceID, limit)
}

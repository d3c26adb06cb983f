package orchestration

import (
	"context"
	"encoding/json"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
	"github.com/pulsehq/pulse/internal/events"
)

// IngestEventRequest is an agent-reported run event. EventID is supplied by
// the agent and is the dedupe key: re-submitting the same event is a no-op.
type IngestEventRequest struct {
	RunID      string          `json:"runId"`
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	TTLSeconds *int64          `json:"ttl,omitempty"`
}

// failureReport is the payload an agent attaches to a run.failed event.
type failureReport struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// artifactReport is the payload an agent attaches to a run.artifact event.
type artifactReport struct {
	ArtifactID string          `json:"artifactId"`
	Kind       string          `json:"kind"`
	URI        string          `json:"uri,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// IngestRunEvent records an agent-reported event and applies its state
// transition. The event append and the run update share one transaction, so
// a duplicate eventId changes nothing at all: the insert is ignored and the
// run is left untouched. Returns whether the event was newly recorded.
//
// Terminal runs accept late events into the log but their status never
// changes again; a stale run.progress after a cancel is recorded and
// otherwise ignored.
func (s *Service) IngestRunEvent(ctx context.Context, workspaceID string, req IngestEventRequest) (bool, error) {
	if req.RunID == "" {
		return false, errors.ErrInvalidArgument("runId", "required")
	}
	if req.EventID == "" {
		return false, errors.ErrInvalidArgument("eventId", "required")
	}
	if req.Type == "" {
		return false, errors.ErrInvalidArgument("type", "required")
	}

	var accepted bool
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		run, err := db.GetRun(tx, workspaceID, req.RunID)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound(req.RunID)
		}

		now := s.now().UTC()
		inserted, err := db.SaveEvent(tx, &db.Event{
			WorkspaceID: workspaceID,
			SubjectID:   req.RunID,
			EventID:     req.EventID,
			EventType:   req.Type,
			Data:        req.Data,
			TTLSeconds:  req.TTLSeconds,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			accepted = false
			return nil
		}
		accepted = true

		run.LastEventAt = &now
		freedSlot := false

		switch events.EventType(req.Type) {
		case events.EventRunHeartbeat:
			run.LastHeartbeatAt = &now
			if err := db.TouchAgent(tx, workspaceID, run.AssignedTo, now); err != nil {
				return err
			}

		case events.EventRunStarted:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusStarted)
				if run.StartedAt == nil {
					run.StartedAt = &now
				}
			}

		case events.EventRunProgress:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusProgress)
			}

		case events.EventRunBlocked:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusBlocked)
			}

		case events.EventRunPaused:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusPaused)
			}

		case events.EventRunResumed:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusProgress)
			}

		case events.EventRunCompleted:
			if !Status(run.Status).Terminal() {
				run.Status = string(StatusCompleted)
				run.EndedAt = &now
				freedSlot = true
			}

		case events.EventRunFailed:
			if !Status(run.Status).Terminal() {
				var report failureReport
				if len(req.Data) > 0 {
					_ = json.Unmarshal(req.Data, &report)
				}
				if report.ErrorCode == "" {
					report.ErrorCode = "AGENT_ERROR"
				}
				run.Status = string(StatusFailed)
				run.ErrorCode = report.ErrorCode
				run.ErrorMessage = report.ErrorMessage
				run.EndedAt = &now
				freedSlot = true
			}

		case events.EventRunArtifact:
			var report artifactReport
			if len(req.Data) > 0 {
				if err := json.Unmarshal(req.Data, &report); err != nil {
					return errors.ErrInvalidArgument("data", "malformed artifact payload").WithCause(err)
				}
			}
			if report.ArtifactID == "" {
				report.ArtifactID = NewEventID()
			}
			if err := db.SaveArtifact(tx, &db.Artifact{
				WorkspaceID: workspaceID,
				ID:          report.ArtifactID,
				RunID:       run.ID,
				JobID:       run.JobID,
				Kind:        report.Kind,
				URI:         report.URI,
				Metadata:    report.Metadata,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		if err := db.UpdateRun(tx, run); err != nil {
			return err
		}

		ev := events.NewEvent(events.EventType(req.Type), workspaceID, run.ID, req.Data)
		ev.EventID = req.EventID
		published = append(published, ev)

		if freedSlot {
			promoted, err := s.promoteOldestQueued(tx, workspaceID, run.AssignedTo)
			if err != nil {
				return err
			}
			if promoted != nil {
				published = append(published, *promoted)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.publish(published)

	if accepted {
		s.logger.Debug("run event ingested",
			"workspace", workspaceID, "run", req.RunID, "type", req.Type)
	}
	return accepted, nil
}

// ListArtifactsForRun returns artifacts reported by a run's agent, oldest
// first.
func (s *Service) ListArtifactsForRun(workspaceID, userID, runID string) ([]db.Artifact, error) {
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
	return db.ListArtifactsForRun(s.store, workspaceID, runID)
}

package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/events"
)

// timeoutData is the audit payload of a run.timeout event.
type timeoutData struct {
	StaleAfter string `json:"staleAfter"`
	LastSeen   string `json:"lastSeen,omitempty"`
}

// SweepStaleRuns times out active runs whose last sign of life (heartbeat,
// event, or creation) is older than staleAfter, then promotes queued runs
// into the freed slots. Spans all workspaces. Returns how many runs were
// timed out.
//
// Timed-out runs get errorCode TIMEOUT to distinguish agent silence from
// agent-reported failure. timed_out is terminal and RetryRun only accepts
// failed runs, so recovery goes through a fresh AssignRun.
func (s *Service) SweepStaleRuns(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-staleAfter)

	var timedOut int
	var published []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		stale, err := db.ListStaleActiveRuns(tx, cutoff)
		if err != nil {
			return err
		}

		for i := range stale {
			run := &stale[i]
			now := s.now().UTC()

			var lastSeen string
			if run.LastHeartbeatAt != nil {
				lastSeen = run.LastHeartbeatAt.Format(time.RFC3339)
			} else if run.LastEventAt != nil {
				lastSeen = run.LastEventAt.Format(time.RFC3339)
			}

			run.Status = string(StatusTimedOut)
			run.ErrorCode = "TIMEOUT"
			run.ErrorMessage = fmt.Sprintf("Run timed out after %s without a heartbeat", staleAfter)
			run.EndedAt = &now
			if err := db.UpdateRun(tx, run); err != nil {
				return err
			}

			ev, err := s.appendAudit(tx, run.WorkspaceID, run.ID, events.EventRunTimeout,
				timeoutData{StaleAfter: staleAfter.String(), LastSeen: lastSeen})
			if err != nil {
				return err
			}
			published = append(published, ev)
			timedOut++

			promoted, err := s.promoteOldestQueued(tx, run.WorkspaceID, run.AssignedTo)
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
		return 0, err
	}
	s.publish(published)

	if timedOut > 0 {
		s.logger.Warn("timed out stale runs", "count", timedOut, "stale_after", staleAfter)
	}
	return timedOut, nil
}

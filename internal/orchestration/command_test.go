package orchestration

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/events"
)

func TestPauseRunSetsLastCommand(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	result, err := svc.PauseRun(t.Context(), testWorkspace, testUser, runID, "maintenance window")
	if err != nil {
		t.Fatalf("pause run: %v", err)
	}
	if !result.OK {
		t.Fatalf("pause rejected: %s", result.Error)
	}

	// Pause is advisory: the status must not change until the agent reports.
	run := getTestRun(t, svc, runID)
	if run.Status != string(StatusAssigned) {
		t.Errorf("status = %s, want assigned", run.Status)
	}
	if run.CommandType != CommandPause {
		t.Errorf("lastCommand type = %q, want run.pause", run.CommandType)
	}
	if run.CommandIssuedAt == nil {
		t.Error("lastCommand issuedAt should be set")
	}
	if run.CommandAckedAt != nil {
		t.Error("lastCommand should be unacknowledged")
	}

	status, err := svc.GetCommandStatus(testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("get command status: %v", err)
	}
	if !status.IsPending {
		t.Error("command should be pending")
	}
	if status.LastCommand == nil || status.LastCommand.Type != CommandPause {
		t.Errorf("lastCommand = %+v", status.LastCommand)
	}
}

func TestPauseCompletedRunFailsCleanly(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)
	forceRunStatus(t, svc, runID, StatusCompleted)

	result, err := svc.PauseRun(t.Context(), testWorkspace, testUser, runID, "")
	if err != nil {
		t.Fatalf("pause run: %v", err)
	}
	if result.OK {
		t.Fatal("pausing a completed run should be rejected")
	}
	if result.Error != "Cannot pause run in completed state" {
		t.Errorf("error = %q", result.Error)
	}

	// A rejected command mutates nothing.
	run := getTestRun(t, svc, runID)
	if run.CommandType != "" {
		t.Errorf("lastCommand should remain unset, got %q", run.CommandType)
	}
}

func TestResumeRunOnlyFromPaused(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	result, err := svc.ResumeRun(t.Context(), testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if result.OK || result.Error != "Cannot resume run in assigned state" {
		t.Errorf("resume from assigned: %+v", result)
	}

	forceRunStatus(t, svc, runID, StatusPaused)
	result, err = svc.ResumeRun(t.Context(), testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if !result.OK {
		t.Errorf("resume from paused rejected: %s", result.Error)
	}
}

func TestAcknowledgeCommandLifecycle(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	if result, _ := svc.PauseRun(t.Context(), testWorkspace, testUser, runID, ""); !result.OK {
		t.Fatalf("pause rejected: %s", result.Error)
	}

	result, err := svc.AcknowledgeCommand(t.Context(), testWorkspace, testUser, runID, CommandPause)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !result.OK {
		t.Fatalf("acknowledge rejected: %s", result.Error)
	}

	status, err := svc.GetCommandStatus(testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("get command status: %v", err)
	}
	if status.IsPending {
		t.Error("command should no longer be pending after acknowledgment")
	}
	if status.LastCommand == nil || status.LastCommand.AcknowledgedAt == nil {
		t.Error("acknowledgedAt should be set")
	}

	evs, err := svc.Events(testWorkspace, testUser, runID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var acked bool
	for _, ev := range evs {
		if ev.EventType == string(events.EventCommandAcked) {
			acked = true
		}
	}
	if !acked {
		t.Error("expected a command.acked event")
	}

	// Double-ack is a soft failure.
	result, err = svc.AcknowledgeCommand(t.Context(), testWorkspace, testUser, runID, CommandPause)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if result.OK {
		t.Error("second acknowledgment should be rejected")
	}
}

func TestAcknowledgeCommandTypeMismatch(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	if result, _ := svc.PauseRun(t.Context(), testWorkspace, testUser, runID, ""); !result.OK {
		t.Fatalf("pause rejected: %s", result.Error)
	}

	result, err := svc.AcknowledgeCommand(t.Context(), testWorkspace, testUser, runID, CommandResume)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if result.OK {
		t.Error("acknowledging the wrong command type should be rejected")
	}
}

func TestCancelRunIsImmediateAndAuthoritative(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)
	forceRunStatus(t, svc, runID, StatusStarted)

	result, err := svc.CancelRun(t.Context(), testWorkspace, testUser, runID, "operator request")
	if err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if !result.OK {
		t.Fatalf("cancel rejected: %s", result.Error)
	}

	run := getTestRun(t, svc, runID)
	if run.Status != string(StatusFailed) {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != "AGENT_ERROR" {
		t.Errorf("errorCode = %q, want AGENT_ERROR", run.ErrorCode)
	}
	if !strings.Contains(run.ErrorMessage, "Cancelled: operator request") {
		t.Errorf("errorMessage = %q", run.ErrorMessage)
	}
	if run.EndedAt == nil {
		t.Error("endedAt should be populated")
	}
	// The cancel still reaches the agent via the command poll.
	if run.CommandType != CommandCancel || run.CommandAckedAt != nil {
		t.Errorf("lastCommand = %q acked=%v, want pending run.cancel", run.CommandType, run.CommandAckedAt)
	}

	// Cancelling a terminal run is a soft failure.
	result, err = svc.CancelRun(t.Context(), testWorkspace, testUser, runID, "again")
	if err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if result.OK || result.Error != "Cannot cancel run in failed state" {
		t.Errorf("second cancel: %+v", result)
	}
}

func TestCancelPromotesOldestQueuedRun(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)

	first := assignTestRun(t, svc, job.JobID)
	second := assignTestRun(t, svc, job.JobID)
	if got := getTestRun(t, svc, second).Status; got != string(StatusQueued) {
		t.Fatalf("second run status = %s, want queued", got)
	}

	if result, _ := svc.CancelRun(t.Context(), testWorkspace, testUser, first, "make room"); !result.OK {
		t.Fatalf("cancel rejected: %s", result.Error)
	}

	if got := getTestRun(t, svc, second).Status; got != string(StatusAssigned) {
		t.Errorf("second run status = %s, want assigned after slot freed", got)
	}
}

func TestRetryRunCeiling(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)

	maxRetries := 3
	job, err := svc.SubmitJob(t.Context(), testWorkspace, testUser, SubmitJobRequest{
		Intent:      "analyze_data",
		Constraints: &Constraints{MaxRetries: &maxRetries},
	})
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	runID := assignTestRun(t, svc, job.JobID)

	for attempt := 1; attempt <= 3; attempt++ {
		forceRunStatus(t, svc, runID, StatusFailed)
		result, err := svc.RetryRun(t.Context(), testWorkspace, testUser, runID)
		if err != nil {
			t.Fatalf("retry %d: %v", attempt, err)
		}
		if !result.OK {
			t.Fatalf("retry %d rejected: %s", attempt, result.Error)
		}
		run := getTestRun(t, svc, runID)
		if run.RetryCount != attempt {
			t.Errorf("retryCount after retry %d = %d", attempt, run.RetryCount)
		}
		if run.Status != string(StatusQueued) {
			t.Errorf("status after retry %d = %s, want queued", attempt, run.Status)
		}
	}

	forceRunStatus(t, svc, runID, StatusFailed)
	result, err := svc.RetryRun(t.Context(), testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("retry at ceiling: %v", err)
	}
	if result.OK {
		t.Fatal("retry beyond the ceiling should be rejected")
	}
	if result.Error != fmt.Sprintf("Maximum retry limit (%d) reached", maxRetries) {
		t.Errorf("error = %q", result.Error)
	}
	if got := getTestRun(t, svc, runID).RetryCount; got != 3 {
		t.Errorf("retryCount = %d, a refused retry must not mutate the run", got)
	}
}

func TestRetryClearsFailureFields(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	run := getTestRun(t, svc, runID)
	run.Status = string(StatusFailed)
	run.ErrorCode = "AGENT_ERROR"
	run.ErrorMessage = "boom"
	if err := db.UpdateRun(svc.store, run); err != nil {
		t.Fatalf("seed failure: %v", err)
	}

	if result, _ := svc.RetryRun(t.Context(), testWorkspace, testUser, runID); !result.OK {
		t.Fatalf("retry rejected: %s", result.Error)
	}

	run = getTestRun(t, svc, runID)
	if run.ErrorCode != "" || run.ErrorMessage != "" {
		t.Errorf("failure fields not cleared: %q %q", run.ErrorCode, run.ErrorMessage)
	}
}

func TestRetryNonFailedRunRejected(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	result, err := svc.RetryRun(t.Context(), testWorkspace, testUser, runID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.OK || result.Error != "Cannot retry run in assigned state" {
		t.Errorf("retry from assigned: %+v", result)
	}
}

func TestLatestCommandWins(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	if result, _ := svc.PauseRun(t.Context(), testWorkspace, testUser, runID, ""); !result.OK {
		t.Fatalf("pause rejected: %s", result.Error)
	}
	if result, _ := svc.CancelRun(t.Context(), testWorkspace, testUser, runID, "changed my mind"); !result.OK {
		t.Fatalf("cancel rejected: %s", result.Error)
	}

	// The command slot holds one command: the cancel silently replaced the
	// unacknowledged pause.
	run := getTestRun(t, svc, runID)
	if run.CommandType != CommandCancel {
		t.Errorf("lastCommand = %q, want run.cancel", run.CommandType)
	}

	result, err := svc.AcknowledgeCommand(t.Context(), testWorkspace, testUser, runID, CommandPause)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if result.OK {
		t.Error("acknowledging the overwritten pause should be rejected")
	}
}

func TestListPendingCommands(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 5)
	job := submitTestJob(t, svc)

	first := assignTestRun(t, svc, job.JobID)
	second := assignTestRun(t, svc, job.JobID)

	if result, _ := svc.PauseRun(t.Context(), testWorkspace, testUser, first, ""); !result.OK {
		t.Fatalf("pause first rejected: %s", result.Error)
	}
	if result, _ := svc.PauseRun(t.Context(), testWorkspace, testUser, second, ""); !result.OK {
		t.Fatalf("pause second rejected: %s", result.Error)
	}
	if result, _ := svc.AcknowledgeCommand(t.Context(), testWorkspace, testUser, second, CommandPause); !result.OK {
		t.Fatalf("ack rejected: %s", result.Error)
	}

	pending, err := svc.ListPendingCommands(testWorkspace, testUser, testAgent)
	if err != nil {
		t.Fatalf("list pending commands: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending commands, want 1", len(pending))
	}
	if pending[0].RunID != first || pending[0].Command != CommandPause {
		t.Errorf("pending = %+v", pending[0])
	}
}

func TestCommandOnUnknownRun(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	_, err := svc.PauseRun(t.Context(), testWorkspace, testUser, "run_missing", "")
	if err == nil || !strings.Contains(err.Error(), "Run not found") {
		t.Errorf("want Run not found, got %v", err)
	}
}

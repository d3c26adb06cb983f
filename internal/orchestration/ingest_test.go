package orchestration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/events"
)

func TestIngestEventDedupe(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	req := IngestEventRequest{
		RunID:   runID,
		EventID: "11111111-2222-3333-4444-555555555555",
		Type:    string(events.EventRunStarted),
	}

	accepted, err := svc.IngestRunEvent(t.Context(), testWorkspace, req)
	require.NoError(t, err)
	require.True(t, accepted, "first submission should be recorded")

	before, err := db.CountEvents(svc.store, testWorkspace, runID)
	require.NoError(t, err)

	accepted, err = svc.IngestRunEvent(t.Context(), testWorkspace, req)
	require.NoError(t, err)
	assert.False(t, accepted, "duplicate eventId must be a no-op")

	after, err := db.CountEvents(svc.store, testWorkspace, runID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "duplicate must not create a second row")
}

func TestIngestLifecycleTransitions(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	steps := []struct {
		eventType events.EventType
		want      Status
	}{
		{events.EventRunStarted, StatusStarted},
		{events.EventRunProgress, StatusProgress},
		{events.EventRunBlocked, StatusBlocked},
		{events.EventRunPaused, StatusPaused},
		{events.EventRunResumed, StatusProgress},
		{events.EventRunCompleted, StatusCompleted},
	}
	for _, step := range steps {
		_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
			RunID:   runID,
			EventID: NewEventID(),
			Type:    string(step.eventType),
		})
		require.NoError(t, err, "ingest %s", step.eventType)

		run := getTestRun(t, svc, runID)
		assert.Equal(t, string(step.want), run.Status, "after %s", step.eventType)
		assert.NotNil(t, run.LastEventAt, "lastEventAt after %s", step.eventType)
	}

	run := getTestRun(t, svc, runID)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.EndedAt)
}

func TestIngestHeartbeat(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   runID,
		EventID: NewEventID(),
		Type:    string(events.EventRunHeartbeat),
	})
	require.NoError(t, err)

	run := getTestRun(t, svc, runID)
	assert.NotNil(t, run.LastHeartbeatAt)
	assert.Equal(t, string(StatusAssigned), run.Status, "heartbeat must not change status")

	agent, err := db.GetAgent(svc.store, testWorkspace, testAgent)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.NotNil(t, agent.LastSeenAt, "heartbeat should touch the agent")
}

func TestIngestFailureReport(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   runID,
		EventID: NewEventID(),
		Type:    string(events.EventRunFailed),
		Data:    json.RawMessage(`{"errorCode":"TIMEOUT","errorMessage":"no response in 300s"}`),
	})
	require.NoError(t, err)

	run := getTestRun(t, svc, runID)
	assert.Equal(t, string(StatusFailed), run.Status)
	assert.Equal(t, "TIMEOUT", run.ErrorCode)
	assert.Equal(t, "no response in 300s", run.ErrorMessage)
	assert.NotNil(t, run.EndedAt)
}

func TestIngestFailureDefaultsToAgentError(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   runID,
		EventID: NewEventID(),
		Type:    string(events.EventRunFailed),
	})
	require.NoError(t, err)

	assert.Equal(t, "AGENT_ERROR", getTestRun(t, svc, runID).ErrorCode)
}

func TestIngestTerminalRunKeepsStatus(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)
	forceRunStatus(t, svc, runID, StatusCompleted)

	accepted, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   runID,
		EventID: NewEventID(),
		Type:    string(events.EventRunProgress),
	})
	require.NoError(t, err)
	assert.True(t, accepted, "late events still land in the log")
	assert.Equal(t, string(StatusCompleted), getTestRun(t, svc, runID).Status,
		"terminal status must not regress")
}

func TestIngestArtifact(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)
	runID := assignTestRun(t, svc, job.JobID)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   runID,
		EventID: NewEventID(),
		Type:    string(events.EventRunArtifact),
		Data:    json.RawMessage(`{"artifactId":"art_1","kind":"report","uri":"s3://bucket/report.pdf"}`),
	})
	require.NoError(t, err)

	artifacts, err := svc.ListArtifactsForRun(testWorkspace, testUser, runID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "art_1", artifacts[0].ID)
	assert.Equal(t, "report", artifacts[0].Kind)
	assert.Equal(t, job.JobID, artifacts[0].JobID)
}

func TestIngestCompletionPromotesQueuedRun(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	registerTestAgent(t, svc, 1)
	job := submitTestJob(t, svc)

	first := assignTestRun(t, svc, job.JobID)
	second := assignTestRun(t, svc, job.JobID)
	require.Equal(t, string(StatusQueued), getTestRun(t, svc, second).Status)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   first,
		EventID: NewEventID(),
		Type:    string(events.EventRunCompleted),
	})
	require.NoError(t, err)

	assert.Equal(t, string(StatusAssigned), getTestRun(t, svc, second).Status,
		"completion frees a slot for the queued run")
}

func TestIngestUnknownRun(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	_, err := svc.IngestRunEvent(t.Context(), testWorkspace, IngestEventRequest{
		RunID:   "run_missing",
		EventID: NewEventID(),
		Type:    string(events.EventRunStarted),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Run not found")
}

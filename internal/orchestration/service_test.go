package orchestration

import (
	"sync"
	"testing"
	"time"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/workspace"
)

const (
	testWorkspace = "ws_test"
	testUser      = "user_alice"
	testAgent     = "agent-1"
)

// fakeClock is a mutable time source for deterministic tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()

	store := db.NewTestStore(t)
	dir := workspace.NewDirectory(store)
	if err := dir.AddMember(testWorkspace, testUser, "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return NewService(store, dir, opts...)
}

func registerTestAgent(t *testing.T, svc *Service, maxConcurrency int) {
	t.Helper()

	err := db.SaveAgent(svc.store, &db.Agent{
		WorkspaceID:    testWorkspace,
		ID:             testAgent,
		Name:           "worker one",
		Capabilities:   []string{"analyze_data", "render_report"},
		IsActive:       true,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		t.Fatalf("register agent: %v", err)
	}
}

func submitTestJob(t *testing.T, svc *Service) *SubmitJobResult {
	t.Helper()

	result, err := svc.SubmitJob(t.Context(), testWorkspace, testUser, SubmitJobRequest{
		Intent: "analyze_data",
	})
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	return result
}

func assignTestRun(t *testing.T, svc *Service, jobID string) string {
	t.Helper()

	result, err := svc.AssignRun(t.Context(), testWorkspace, testUser, AssignRunRequest{
		JobID:      jobID,
		AgentID:    testAgent,
		Capability: "analyze_data",
	})
	if err != nil {
		t.Fatalf("assign run: %v", err)
	}
	return result.RunID
}

// forceRunStatus rewrites a run's status directly, bypassing the command
// guards, to set up transition tests.
func forceRunStatus(t *testing.T, svc *Service, runID string, status Status) {
	t.Helper()

	run, err := db.GetRun(svc.store, testWorkspace, runID)
	if err != nil || run == nil {
		t.Fatalf("get run %s: %v", runID, err)
	}
	run.Status = string(status)
	if err := db.UpdateRun(svc.store, run); err != nil {
		t.Fatalf("force run status: %v", err)
	}
}

func getTestRun(t *testing.T, svc *Service, runID string) *db.Run {
	t.Helper()

	run, err := db.GetRun(svc.store, testWorkspace, runID)
	if err != nil {
		t.Fatalf("get run %s: %v", runID, err)
	}
	if run == nil {
		t.Fatalf("run %s not found", runID)
	}
	return run
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/orchestration"
	"github.com/pulsehq/pulse/internal/workspace"
)

const (
	testWorkspace = "ws_test"
	testUser      = "user_alice"
	testAgent     = "agent-1"
)

func newTestServer(t *testing.T) (*httptest.Server, *orchestration.Service) {
	t.Helper()

	store := db.NewTestStore(t)
	dir := workspace.NewDirectory(store)
	if err := dir.AddMember(testWorkspace, testUser, "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := db.SaveAgent(store, &db.Agent{
		WorkspaceID:    testWorkspace,
		ID:             testAgent,
		Capabilities:   []string{"analyze_data"},
		IsActive:       true,
		MaxConcurrency: 2,
	}); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	svc := orchestration.NewService(store, dir)
	srv := httptest.NewServer(NewServer(svc).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(UserHeader, testUser)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func submitJob(t *testing.T, srv *httptest.Server) orchestration.SubmitJobResult {
	t.Helper()

	var result orchestration.SubmitJobResult
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workspaces/"+testWorkspace+"/jobs",
		map[string]any{"intent": "analyze_data"}, &result)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit job status = %d", resp.StatusCode)
	}
	return result
}

func assignRun(t *testing.T, srv *httptest.Server, jobID string) orchestration.AssignRunResult {
	t.Helper()

	var result orchestration.AssignRunResult
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workspaces/"+testWorkspace+"/runs",
		map[string]any{"jobId": jobID, "agentId": testAgent, "capability": "analyze_data"}, &result)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign run status = %d", resp.StatusCode)
	}
	return result
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestSubmitAndQueryJob(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	job := submitJob(t, srv)
	if !strings.HasPrefix(job.JobID, "job_") {
		t.Errorf("jobId = %q", job.JobID)
	}

	var fetched db.Job
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/workspaces/"+testWorkspace+"/jobs/"+job.JobID, nil, &fetched)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query job status = %d", resp.StatusCode)
	}
	if fetched.Intent != "analyze_data" {
		t.Errorf("intent = %q", fetched.Intent)
	}
}

func TestMissingUserHeader(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/workspaces/"+testWorkspace+"/jobs",
		"application/json", strings.NewReader(`{"intent":"x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	// Unknown job is a 404.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/workspaces/"+testWorkspace+"/jobs/job_missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}

	// Non-member is a 403.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/workspaces/"+testWorkspace+"/jobs", nil)
	req.Header.Set(UserHeader, "user_mallory")
	outsider, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = outsider.Body.Close() }()
	if outsider.StatusCode != http.StatusForbidden {
		t.Errorf("non-member status = %d, want 403", outsider.StatusCode)
	}
}

func TestCommandFlowOverHTTP(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	job := submitJob(t, srv)
	run := assignRun(t, srv, job.JobID)
	base := srv.URL + "/api/workspaces/" + testWorkspace + "/runs/" + run.RunID

	var pause orchestration.CommandResult
	doJSON(t, http.MethodPost, base+"/pause", map[string]string{"reason": "maintenance"}, &pause)
	if !pause.OK {
		t.Fatalf("pause rejected: %s", pause.Error)
	}

	var status orchestration.CommandStatus
	doJSON(t, http.MethodGet, base+"/command", nil, &status)
	if !status.IsPending || status.LastCommand == nil || status.LastCommand.Type != "run.pause" {
		t.Errorf("command status = %+v", status)
	}

	var ack orchestration.CommandResult
	doJSON(t, http.MethodPost, base+"/ack", map[string]string{"commandType": "run.pause"}, &ack)
	if !ack.OK {
		t.Fatalf("ack rejected: %s", ack.Error)
	}

	doJSON(t, http.MethodGet, base+"/command", nil, &status)
	if status.IsPending {
		t.Error("command should not be pending after ack")
	}
}

func TestCommandRejectionIsSoft(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	job := submitJob(t, srv)
	run := assignRun(t, srv, job.JobID)
	base := srv.URL + "/api/workspaces/" + testWorkspace + "/runs/" + run.RunID

	// Resume is only legal from paused; the rejection is a 200 with ok=false.
	var result orchestration.CommandResult
	resp := doJSON(t, http.MethodPost, base+"/resume", nil, &result)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if result.OK || result.Error != "Cannot resume run in assigned state" {
		t.Errorf("result = %+v", result)
	}
}

func TestIngestEventIdempotentOverHTTP(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	job := submitJob(t, srv)
	run := assignRun(t, srv, job.JobID)
	url := fmt.Sprintf("%s/api/workspaces/%s/runs/%s/events", srv.URL, testWorkspace, run.RunID)
	body := map[string]string{
		"eventId": "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		"type":    "run.started",
	}

	var first map[string]bool
	resp := doJSON(t, http.MethodPost, url, body, &first)
	if resp.StatusCode != http.StatusCreated || !first["accepted"] {
		t.Fatalf("first ingest: status=%d accepted=%v", resp.StatusCode, first["accepted"])
	}

	var second map[string]bool
	resp = doJSON(t, http.MethodPost, url, body, &second)
	if resp.StatusCode != http.StatusOK || second["accepted"] {
		t.Errorf("duplicate ingest: status=%d accepted=%v", resp.StatusCode, second["accepted"])
	}

	var fetched db.Run
	doJSON(t, http.MethodGet, srv.URL+"/api/workspaces/"+testWorkspace+"/runs/"+run.RunID, nil, &fetched)
	if fetched.Status != "started" {
		t.Errorf("run status = %q, want started", fetched.Status)
	}
}

func TestAgentRegistrationAndPendingCommands(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	var agent db.Agent
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workspaces/"+testWorkspace+"/agents",
		map[string]any{"agentId": "agent-2", "capabilities": []string{"render_report"}, "maxConcurrency": 4}, &agent)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register agent status = %d", resp.StatusCode)
	}
	if !agent.IsActive || agent.MaxConcurrency != 4 {
		t.Errorf("agent = %+v", agent)
	}

	job := submitJob(t, srv)
	run := assignRun(t, srv, job.JobID)
	doJSON(t, http.MethodPost, srv.URL+"/api/workspaces/"+testWorkspace+"/runs/"+run.RunID+"/pause", nil, nil)

	var pending struct {
		Commands []orchestration.PendingCommand `json:"commands"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/workspaces/"+testWorkspace+"/agents/"+testAgent+"/commands", nil, &pending)
	if len(pending.Commands) != 1 || pending.Commands[0].RunID != run.RunID {
		t.Errorf("pending = %+v", pending.Commands)
	}
}

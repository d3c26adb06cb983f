package api

import (
	"net/http"

	"github.com/pulsehq/pulse/internal/orchestration"
)

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req orchestration.SubmitJobRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.svc.SubmitJob(r.Context(), r.PathValue("ws"), u, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	jobs, err := s.svc.ListJobs(r.PathValue("ws"), u, limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleQueryJob(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	job, err := s.svc.QueryJob(r.PathValue("ws"), u, r.PathValue("jobId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListRunsForJob(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	runs, err := s.svc.ListRunsForJob(r.PathValue("ws"), u, r.PathValue("jobId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleListJobEvents(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	evs, err := s.svc.Events(r.PathValue("ws"), u, r.PathValue("jobId"), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleAssignRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req orchestration.AssignRunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.svc.AssignRun(r.Context(), r.PathValue("ws"), u, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleQueryRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	run, err := s.svc.QueryRun(r.PathValue("ws"), u, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// commandBody is the optional payload of pause and cancel requests.
type commandBody struct {
	Reason string `json:"reason,omitempty"`
}

// ackBody is the payload of an acknowledgment request.
type ackBody struct {
	CommandType string `json:"commandType"`
}

// writeCommandResult renders a soft command outcome. Rejections share the
// 200 status: an illegal transition is an expected answer, not an HTTP
// error.
func (s *Server) writeCommandResult(w http.ResponseWriter, result *orchestration.CommandResult) {
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body commandBody
	if r.ContentLength > 0 && !s.decodeBody(w, r, &body) {
		return
	}

	result, err := s.svc.PauseRun(r.Context(), r.PathValue("ws"), u, r.PathValue("runId"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCommandResult(w, result)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	result, err := s.svc.ResumeRun(r.Context(), r.PathValue("ws"), u, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCommandResult(w, result)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body commandBody
	if r.ContentLength > 0 && !s.decodeBody(w, r, &body) {
		return
	}

	result, err := s.svc.CancelRun(r.Context(), r.PathValue("ws"), u, r.PathValue("runId"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCommandResult(w, result)
}

func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	result, err := s.svc.RetryRun(r.Context(), r.PathValue("ws"), u, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCommandResult(w, result)
}

func (s *Server) handleAcknowledgeCommand(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body ackBody
	if !s.decodeBody(w, r, &body) {
		return
	}

	result, err := s.svc.AcknowledgeCommand(r.Context(), r.PathValue("ws"), u, r.PathValue("runId"), body.CommandType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCommandResult(w, result)
}

func (s *Server) handleGetCommandStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	status, err := s.svc.GetCommandStatus(r.PathValue("ws"), u, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req orchestration.IngestEventRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.RunID = r.PathValue("runId")

	accepted, err := s.svc.IngestRunEvent(r.Context(), r.PathValue("ws"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !accepted {
		// Duplicate eventId: idempotent no-op.
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]bool{"accepted": accepted})
}

func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	evs, err := s.svc.Events(r.PathValue("ws"), u, r.PathValue("runId"), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	artifacts, err := s.svc.ListArtifactsForRun(r.PathValue("ws"), u, r.PathValue("runId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req orchestration.RegisterAgentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	agent, err := s.svc.RegisterAgent(r.PathValue("ws"), u, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	agents, err := s.svc.ListAgents(r.PathValue("ws"), u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	agent, err := s.svc.GetAgent(r.PathValue("ws"), u, r.PathValue("agentId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if err := s.svc.DeactivateAgent(r.PathValue("ws"), u, r.PathValue("agentId")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListPendingCommands(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	pending, err := s.svc.ListPendingCommands(r.PathValue("ws"), u, r.PathValue("agentId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": pending})
}

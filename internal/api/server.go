// Package api exposes the orchestration core over HTTP.
//
// Mutations and queries map one-to-one onto the orchestration service;
// the WebSocket endpoint adds push delivery of events on top of the
// poll-based command channel without changing the data model.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pulsehq/pulse/internal/errors"
	"github.com/pulsehq/pulse/internal/events"
	"github.com/pulsehq/pulse/internal/orchestration"
)

// UserHeader carries the caller's identity. Authentication-provider wiring
// sits in front of this server; by the time a request lands here the header
// is trusted.
const UserHeader = "X-Pulse-User"

// Server serves the orchestration HTTP API.
type Server struct {
	svc       *orchestration.Service
	publisher events.Publisher
	logger    *slog.Logger
	ws        *WSHandler
	httpSrv   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher sets the event publisher backing the WebSocket endpoint.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// NewServer creates the API server over the orchestration service.
func NewServer(svc *orchestration.Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		publisher: events.NewNopPublisher(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ws = NewWSHandler(s.publisher, s, s.logger)
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/workspaces/{ws}/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs/{jobId}", s.handleQueryJob)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs/{jobId}/runs", s.handleListRunsForJob)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs/{jobId}/events", s.handleListJobEvents)

	mux.HandleFunc("POST /api/workspaces/{ws}/runs", s.handleAssignRun)
	mux.HandleFunc("GET /api/workspaces/{ws}/runs/{runId}", s.handleQueryRun)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/pause", s.handlePauseRun)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/resume", s.handleResumeRun)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/cancel", s.handleCancelRun)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/retry", s.handleRetryRun)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/ack", s.handleAcknowledgeCommand)
	mux.HandleFunc("GET /api/workspaces/{ws}/runs/{runId}/command", s.handleGetCommandStatus)
	mux.HandleFunc("POST /api/workspaces/{ws}/runs/{runId}/events", s.handleIngestEvent)
	mux.HandleFunc("GET /api/workspaces/{ws}/runs/{runId}/events", s.handleListRunEvents)
	mux.HandleFunc("GET /api/workspaces/{ws}/runs/{runId}/artifacts", s.handleListArtifacts)

	mux.HandleFunc("POST /api/workspaces/{ws}/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /api/workspaces/{ws}/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/workspaces/{ws}/agents/{agentId}", s.handleGetAgent)
	mux.HandleFunc("DELETE /api/workspaces/{ws}/agents/{agentId}", s.handleDeactivateAgent)
	mux.HandleFunc("GET /api/workspaces/{ws}/agents/{agentId}/commands", s.handleListPendingCommands)

	mux.Handle("GET /ws", s.ws)

	return mux
}

// ListenAndServe starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.ws.Close()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// user extracts the caller identity. Empty means unauthenticated; every
// workspace-scoped handler rejects that before touching the service.
func user(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := user(r)
	if u == "" {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "missing " + UserHeader + " header",
		})
		return "", false
	}
	return u, true
}

// writeError maps hard failures to HTTP statuses via the error's category.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if pulseErr := errors.AsPulseError(err); pulseErr != nil {
		s.writeJSON(w, pulseErr.HTTPStatus(), map[string]any{
			"error": pulseErr,
		})
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, errors.ErrInvalidArgument("body", "malformed JSON").WithCause(err))
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

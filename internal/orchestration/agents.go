package orchestration

import (
	"encoding/json"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/errors"
)

// RegisterAgentRequest describes an external worker joining a workspace.
type RegisterAgentRequest struct {
	AgentID        string          `json:"agentId"`
	Name           string          `json:"name,omitempty"`
	Capabilities   []string        `json:"capabilities"`
	Version        string          `json:"version,omitempty"`
	MaxConcurrency int             `json:"maxConcurrency,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// RegisterAgent creates or updates an agent record. Registration marks the
// agent active; deactivation goes through DeactivateAgent.
func (s *Service) RegisterAgent(workspaceID, userID string, req RegisterAgentRequest) (*db.Agent, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, errors.ErrInvalidArgument("agentId", "required")
	}
	if len(req.Capabilities) == 0 {
		return nil, errors.ErrInvalidArgument("capabilities", "at least one capability is required")
	}

	agent := &db.Agent{
		WorkspaceID:    workspaceID,
		ID:             req.AgentID,
		Name:           req.Name,
		Capabilities:   req.Capabilities,
		Version:        req.Version,
		IsActive:       true,
		MaxConcurrency: req.MaxConcurrency,
		Config:         req.Config,
	}
	if existing, err := db.GetAgent(s.store, workspaceID, req.AgentID); err != nil {
		return nil, err
	} else if existing != nil {
		agent.CreatedAt = existing.CreatedAt
		agent.LastSeenAt = existing.LastSeenAt
	}

	if err := db.SaveAgent(s.store, agent); err != nil {
		return nil, err
	}

	s.logger.Info("agent registered",
		"workspace", workspaceID, "agent", agent.ID, "capabilities", agent.Capabilities)
	return agent, nil
}

// DeactivateAgent marks an agent inactive. Existing runs are untouched; new
// assignments against the agent fail with AgentUnavailable.
func (s *Service) DeactivateAgent(workspaceID, userID, agentID string) error {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return err
	}

	agent, err := db.GetAgent(s.store, workspaceID, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return errors.ErrAgentUnavailable(agentID)
	}

	agent.IsActive = false
	if err := db.SaveAgent(s.store, agent); err != nil {
		return err
	}

	s.logger.Info("agent deactivated", "workspace", workspaceID, "agent", agentID)
	return nil
}

// GetAgent returns an agent record.
func (s *Service) GetAgent(workspaceID, userID, agentID string) (*db.Agent, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}

	agent, err := db.GetAgent(s.store, workspaceID, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errors.ErrAgentUnavailable(agentID)
	}
	return agent, nil
}

// ListAgents returns the workspace's agents.
func (s *Service) ListAgents(workspaceID, userID string) ([]db.Agent, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	return db.ListAgents(s.store, workspaceID)
}

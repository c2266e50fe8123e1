package sessionstore

import (
	"context"

	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/obs"
)

// SafePersister adapts a Store to orchestrator.SessionPersister,
// enforcing spec.md §4.8's "all operations may fail; failures are
// logged and never propagate into the agent loop" by swallowing every
// error after logging it, rather than asking every Store implementation
// to do that itself.
type SafePersister struct {
	Store  Store
	Logger *obs.Logger
}

// CreateSession persists the new agent's session, logging and
// discarding any failure so agent creation itself never fails because
// persistence is unavailable.
func (p *SafePersister) CreateSession(ctx context.Context, agentID string, cfg models.AgentConfig) error {
	if p == nil || p.Store == nil {
		return nil
	}
	_, err := p.Store.CreateSession(ctx, CreateSessionParams{
		Name:         agentID,
		Type:         "agent",
		AgentName:    cfg.Name,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	if err != nil && p.Logger != nil {
		p.Logger.Warn(ctx, "sessionstore: create session failed", "agent_id", agentID, "error", err)
	}
	return nil
}

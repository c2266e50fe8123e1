// Package sessionstore implements C8, the session store described in
// the core's external interface: create_session/save_message/
// save_tool_call/update_tool_call_result/dispose. Grounded on the
// teacher's internal/sessions package (Store interface in store.go,
// MemoryStore in memory.go, CockroachStore in cockroach.go), retargeted
// from a channel-addressed session/message model to forge's flatter
// session/message/tool-call record shape.
package sessionstore

import (
	"context"
	"time"

	"github.com/forgehq/forge/internal/models"
)

// CreateSessionParams mirrors create_session's parameter list exactly.
type CreateSessionParams struct {
	Name         string
	Type         string
	ParentID     string // optional; empty means a root session
	AgentName    string
	Model        string
	SystemPrompt string // optional
	Temperature  float64
	MaxTokens    int
}

// Session is the persisted record behind a session id.
type Session struct {
	ID           string
	Name         string
	Type         string
	ParentID     string
	AgentName    string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	CreatedAt    time.Time
}

// MessageRecord is the persisted record behind a save_message call.
type MessageRecord struct {
	ID        string
	SessionID string
	Message   models.Message
	CreatedAt time.Time
}

// ToolCallRecord is the persisted record behind a save_tool_call call,
// updated in place by update_tool_call_result.
type ToolCallRecord struct {
	ID         string
	MessageID  string
	SessionID  string
	ToolName   string
	ArgsJSON   string
	AgentName  string
	ResultText string
	Error      string
	ElapsedMs  int64
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// Store is C8's contract. Every method may fail; per spec.md §4.8
// failures are logged by the caller and never propagate into the agent
// loop, so Store itself returns plain errors and leaves swallowing to
// a wrapper (see SafePersister).
type Store interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (sessionID string, err error)
	SaveMessage(ctx context.Context, sessionID string, msg models.Message) (messageID string, err error)
	SaveToolCall(ctx context.Context, messageID, sessionID, toolName, argsJSON, agentName string) (toolCallID string, err error)
	UpdateToolCallResult(ctx context.Context, toolCallID string, resultText string, errText string, elapsedMs int64) error
	Dispose(ctx context.Context) error
}

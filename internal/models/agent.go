package models

import (
	"context"
	"sync"
	"time"
)

// AgentStatus is the lifecycle state of an Agent as seen by the
// orchestrator.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentTerminated AgentStatus = "terminated"
)

// AgentConfig is built once at agent construction and treated as
// read-only for the lifetime of a run.
type AgentConfig struct {
	Name                   string
	Provider               string // which wired LLMProvider backs this agent
	Model                  string
	SystemPrompt           string
	Temperature            float64
	TopP                   float64
	MaxTokens              int
	Stream                 bool
	MaintainHistory        bool
	MaxHistoryMessages     int // 0 means unbounded
	EnableTools            bool
	ToolAllowlist          []string // nil means no filtering
	RequireCommandApproval bool
}

// ToolCallEvent is delivered to an Agent's OnToolCall subscribers
// immediately before a tool begins executing.
type ToolCallEvent struct {
	AgentID       string
	Name          string
	RawArgsJSON   string
	OccurredAt    time.Time
}

// Agent is a configured wrapper around a chat model with its own history
// and tool policy. History is owned exclusively by the agent's single
// loop; external readers must snapshot under the mutex.
type Agent struct {
	ID                string
	Name              string
	Config            AgentConfig
	CurrentSessionID  string

	mu      sync.RWMutex
	history []Message
	status  AgentStatus

	onToolCall []func(ToolCallEvent)

	cancel context.CancelFunc
}

// NewAgent constructs an Idle agent. If cfg.SystemPrompt is non-empty the
// history's first message is a system message, matching the invariant
// history[0].role=system iff config.system_prompt was set.
func NewAgent(id string, cfg AgentConfig) *Agent {
	a := &Agent{ID: id, Name: cfg.Name, Config: cfg, status: AgentIdle}
	if cfg.SystemPrompt != "" {
		a.history = append(a.history, Message{
			Role:      RoleSystem,
			Content:   TextContent(cfg.SystemPrompt),
			CreatedAt: time.Now(),
		})
	}
	return a
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// SetStatus transitions the agent's lifecycle state.
func (a *Agent) SetStatus(s AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// SetCancel stores the cancel func for the agent's in-flight run so the
// orchestrator can abort it on TerminateAgent.
func (a *Agent) SetCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
}

// Cancel aborts the agent's in-flight run, if any.
func (a *Agent) Cancel() {
	a.mu.RLock()
	cancel := a.cancel
	a.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// AppendMessage adds one Message to history under the agent's lock.
func (a *Agent) AppendMessage(m Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, m)
}

// AppendMessages adds several Messages atomically, preserving the
// assistant-with-tool-calls -> tool* -> next ordering invariant.
func (a *Agent) AppendMessages(ms ...Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, ms...)
}

// History returns a snapshot copy of the agent's history.
func (a *Agent) History() []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Message, len(a.history))
	copy(out, a.history)
	return out
}

// ReplaceHistory overwrites the history, used by BuildRequest's trimming
// step. The caller must supply the full desired slice.
func (a *Agent) ReplaceHistory(ms []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = ms
}

// OnToolCall registers a subscriber invoked before each tool execution.
// Modeled as a slice of callbacks rather than an implicit global
// observer, per the event-hook design note.
func (a *Agent) OnToolCall(fn func(ToolCallEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onToolCall = append(a.onToolCall, fn)
}

// EmitToolCall notifies all subscribers. Never blocks the caller beyond
// the subscriber's own execution time.
func (a *Agent) EmitToolCall(ev ToolCallEvent) {
	a.mu.RLock()
	subs := make([]func(ToolCallEvent), len(a.onToolCall))
	copy(subs, a.onToolCall)
	a.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

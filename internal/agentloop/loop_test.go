package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/toolkit"
	"github.com/forgehq/forge/internal/transport"
)

// scriptedProvider replays a fixed sequence of streamed turns, one per
// call to Stream, in order. It never calls Create in these tests.
type scriptedProvider struct {
	turns [][]transport.ChunkEvent
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Create(ctx context.Context, req transport.Request) (transport.Response, error) {
	return transport.Response{}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req transport.Request) (<-chan transport.ChunkEvent, error) {
	idx := p.calls
	p.calls++
	ch := make(chan transport.ChunkEvent, len(p.turns[idx]))
	for _, ev := range p.turns[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) ParameterSchema() models.ToolParamSchema {
	return models.ToolParamSchema{Type: "object", Properties: map[string]any{"text": map[string]any{"type": "string"}}}
}
func (echoTool) RequiredParams() []string { return nil }
func (echoTool) DisplaySummary(params json.RawMessage) string {
	return "echo"
}
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &in)
	return models.ToolResult{Success: true, FormattedOutput: "echoed: " + in.Text}, nil
}

func newTestLoop(provider transport.Provider) (*Loop, *toolkit.Registry) {
	registry := toolkit.NewRegistry(nil)
	registry.Register(echoTool{})
	runtime := toolkit.NewRuntime(registry, toolkit.DefaultRuntimeConfig())
	return New(provider, registry, runtime, Config{}), registry
}

func newTestAgent() *models.Agent {
	return models.NewAgent("agent-1", models.AgentConfig{
		Name:        "tester",
		Model:       "test-model",
		EnableTools: true,
	})
}

func TestExecute_SingleToolCallRoundTrip(t *testing.T) {
	provider := &scriptedProvider{turns: [][]transport.ChunkEvent{
		{
			{ToolCallDeltas: []transport.ToolCallDelta{{Index: 0, ID: "call_1", Name: "echo", Arguments: `{"text":"hi"}`}}},
			{FinishReason: "tool_calls"},
		},
		{
			{ContentDelta: "done"},
			{FinishReason: "stop"},
		},
	}}
	loop, _ := newTestLoop(provider)
	agent := newTestAgent()

	out, err := loop.Execute(context.Background(), agent, "please echo hi")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "done" {
		t.Fatalf("final text = %q, want %q", out, "done")
	}

	history := agent.History()
	// user -> assistant(tool_calls) -> tool -> assistant(stop); the
	// continuation nudge rides along in the request only and is never
	// persisted.
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4: %+v", len(history), history)
	}
	if history[1].Role != models.RoleAssistant || len(history[1].ToolCalls) != 1 {
		t.Fatalf("expected assistant-with-tool-calls at index 1, got %+v", history[1])
	}
	if history[2].Role != models.RoleTool || history[2].ToolCallID != "call_1" {
		t.Fatalf("expected tool message at index 2, got %+v", history[2])
	}
	if history[2].Content.String() != "echoed: hi" {
		t.Fatalf("tool content = %q, want %q", history[2].Content.String(), "echoed: hi")
	}
}

func TestExecute_UnknownToolReportsNotFound(t *testing.T) {
	provider := &scriptedProvider{turns: [][]transport.ChunkEvent{
		{
			{ToolCallDeltas: []transport.ToolCallDelta{{Index: 0, ID: "call_1", Name: "nonexistent", Arguments: `{}`}}},
			{FinishReason: "tool_calls"},
		},
		{
			{ContentDelta: "ok"},
			{FinishReason: "stop"},
		},
	}}
	loop, _ := newTestLoop(provider)
	agent := newTestAgent()

	if _, err := loop.Execute(context.Background(), agent, "call a missing tool"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	history := agent.History()
	toolMsg := history[2]
	if toolMsg.Role != models.RoleTool {
		t.Fatalf("expected tool message, got %+v", toolMsg)
	}
	if toolMsg.Content.String() != "Tool 'nonexistent' not found" {
		t.Fatalf("content = %q, want the not-found message", toolMsg.Content.String())
	}
}

func TestExecute_TrimsNonSystemHistoryPreservingSystem(t *testing.T) {
	provider := &scriptedProvider{turns: [][]transport.ChunkEvent{
		{{ContentDelta: "hi"}, {FinishReason: "stop"}},
	}}
	loop, _ := newTestLoop(provider)

	agent := models.NewAgent("agent-2", models.AgentConfig{
		Name:               "tester",
		Model:              "test-model",
		MaintainHistory:    true,
		MaxHistoryMessages: 2,
		SystemPrompt:       "be helpful",
	})
	for i := 0; i < 4; i++ {
		agent.AppendMessage(models.Message{Role: models.RoleUser, Content: models.TextContent("old"), CreatedAt: time.Now()})
	}

	if _, err := loop.Execute(context.Background(), agent, "new message"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	history := agent.History()
	if history[0].Role != models.RoleSystem {
		t.Fatalf("expected system message preserved at index 0, got %+v", history[0])
	}
	nonSystem := 0
	for _, m := range history {
		if m.Role != models.RoleSystem {
			nonSystem++
		}
	}
	// trimHistory caps non-system messages at 2 (the newest "old" message
	// plus the new user message), then the assistant reply is appended
	// after BuildRequest, bringing the non-system count to 3.
	if nonSystem != 3 {
		t.Fatalf("non-system message count = %d, want 3: %+v", nonSystem, history)
	}
}

func TestExecute_CancellationDoesNotDispatchOrRecurse(t *testing.T) {
	provider := &scriptedProvider{turns: [][]transport.ChunkEvent{
		{{ContentDelta: "partial"}},
	}}
	loop, _ := newTestLoop(provider)
	agent := newTestAgent()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Execute(ctx, agent, "go")
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
	if len(agent.History()) != 1 {
		t.Fatalf("expected only the user message to have been appended, got %d messages", len(agent.History()))
	}
}

func TestSteeringQueue_SplicesBeforeNextTurn(t *testing.T) {
	provider := &scriptedProvider{turns: [][]transport.ChunkEvent{
		{{ContentDelta: "ack"}, {FinishReason: "stop"}},
	}}
	loop, _ := newTestLoop(provider)
	agent := newTestAgent()

	loop.Steering().Steer("an out of band note")

	if _, err := loop.Execute(context.Background(), agent, "hello"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	history := agent.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (user, steering, assistant): %+v", len(history), history)
	}
	if history[1].Content.String() != "an out of band note" {
		t.Fatalf("spliced message = %+v, want the steering content", history[1])
	}
	if loop.Steering().HasPending() {
		t.Fatalf("expected steering queue to be drained")
	}
}

// Package agentloop implements C6: the agent execution state machine
// that drives a transport.Provider through model-generated tool calls.
// Grounded on the teacher's internal/agent/loop.go (AgenticLoop.Run,
// LoopState, the Init/Stream/ExecuteTools/Continue phase split), scaled
// down to spec.md §4.6's simpler BuildRequest/AwaitFirstChunk/Streaming/
// DispatchTools contract and its single maintain_history/
// max_history_messages trimming rule.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/obs"
	"github.com/forgehq/forge/internal/toolkit"
	"github.com/forgehq/forge/internal/transport"
)

// ContinuationNudge is appended as a synthetic user message after a
// round of tool dispatch, prompting the model to produce its next
// assistant turn.
const ContinuationNudge = "Please continue with your response"

// DefaultMaxRecursionDepth bounds BuildRequest recursions. spec.md §9
// leaves this an Open Question; resolved here as a configurable bound
// defaulting to 32, scaled up from the teacher's MaxIterations
// default of 10.
const DefaultMaxRecursionDepth = 32

// OnChunk receives streamed content. complete is true on the final
// chunk of a model turn; isToolCall is true for a tool-call-only delta
// (content is empty in that case).
type OnChunk func(content string, complete bool, isToolCall bool)

// ResultRecorder persists a completed tool call for later inspection.
// No type in this module implements it; callers supply one through
// Config.Recorder, and a nil recorder disables persistence.
// RecordToolCall returns nothing, so a failed write cannot fail the run.
type ResultRecorder interface {
	RecordToolCall(ctx context.Context, agentID string, call models.ToolCallRequest, result models.ToolResult, err error, duration time.Duration)
}

// Loop drives one Agent's turns against a Provider, dispatching tool
// calls through a Runtime and a Registry.
type Loop struct {
	provider transport.Provider
	registry *toolkit.Registry
	runtime  *toolkit.Runtime
	recorder ResultRecorder
	logger   *obs.Logger

	maxRecursionDepth int

	steering *SteeringQueue
}

// Config configures a Loop. A zero MaxRecursionDepth falls back to
// DefaultMaxRecursionDepth.
type Config struct {
	MaxRecursionDepth int
	Recorder          ResultRecorder
	Logger            *obs.Logger
}

// New builds a Loop over provider, using registry for tool definitions
// and runtime for dispatch.
func New(provider transport.Provider, registry *toolkit.Registry, runtime *toolkit.Runtime, cfg Config) *Loop {
	depth := cfg.MaxRecursionDepth
	if depth <= 0 {
		depth = DefaultMaxRecursionDepth
	}
	return &Loop{
		provider:          provider,
		registry:          registry,
		runtime:           runtime,
		recorder:          cfg.Recorder,
		logger:            cfg.Logger,
		maxRecursionDepth: depth,
		steering:          NewSteeringQueue(),
	}
}

// Steering returns the loop's steering queue, letting a caller enqueue
// out-of-band steering or follow-up messages while a run is in flight.
func (l *Loop) Steering() *SteeringQueue { return l.steering }

// Execute runs one non-streaming turn: it appends userMessage to the
// agent's history, drives BuildRequest/Streaming/DispatchTools to
// completion, and returns the agent's final accumulated assistant text.
func (l *Loop) Execute(ctx context.Context, agent *models.Agent, userMessage string) (string, error) {
	var final string
	err := l.run(ctx, agent, userMessage, func(content string, complete bool, isToolCall bool) {
		if !isToolCall {
			final += content
		}
	})
	return final, err
}

// ExecuteStream runs one turn, invoking onChunk for every content and
// tool-call delta as they are produced.
func (l *Loop) ExecuteStream(ctx context.Context, agent *models.Agent, userMessage string, onChunk OnChunk) error {
	return l.run(ctx, agent, userMessage, onChunk)
}

// run is the recursive BuildRequest -> AwaitFirstChunk -> Streaming ->
// DispatchTools state machine. userMessage is only appended on the
// first (depth==0) call; recursive calls carry it as "".
func (l *Loop) run(ctx context.Context, agent *models.Agent, userMessage string, onChunk OnChunk) error {
	return l.runAt(ctx, agent, userMessage, "", onChunk, 0)
}

// runAt drives one BuildRequest/Streaming/DispatchTools round. A
// non-empty userMessage is appended to the agent's persistent history.
// ephemeralNudge, used after a tool-dispatch round to prompt the next
// assistant turn, is folded into the outgoing request only: spec.md §8
// scenario 1 counts a completed tool round-trip as exactly four history
// messages (user, assistant-with-tool-calls, tool, assistant), so the
// nudge must never become a fifth persisted message.
func (l *Loop) runAt(ctx context.Context, agent *models.Agent, userMessage string, ephemeralNudge string, onChunk OnChunk, depth int) error {
	if depth > l.maxRecursionDepth {
		return &forgeerr.ProtocolError{Detail: fmt.Sprintf("agent loop exceeded max recursion depth of %d", l.maxRecursionDepth)}
	}

	// BuildRequest.
	if userMessage != "" {
		agent.AppendMessage(models.Message{
			Role:      models.RoleUser,
			Content:   models.TextContent(userMessage),
			CreatedAt: time.Now(),
		})
	}
	l.spliceSteering(agent)

	req := l.buildRequest(agent)
	if ephemeralNudge != "" {
		messages := make([]models.Message, len(req.Messages), len(req.Messages)+1)
		copy(messages, req.Messages)
		req.Messages = append(messages, models.Message{
			Role:      models.RoleUser,
			Content:   models.TextContent(ephemeralNudge),
			CreatedAt: time.Now(),
		})
	}

	// AwaitFirstChunk / Streaming. A cancellation observed before the
	// call is made is still reported as Cancelled rather than attempted.
	if ctx.Err() != nil {
		return &forgeerr.CancelledError{Op: "agentloop"}
	}
	events, err := l.provider.Stream(ctx, req)
	if err != nil {
		return &forgeerr.TransportError{Op: "stream", Cause: err}
	}

	var currentText string
	pending := map[int]*models.ToolCallRequest{}
	var order []int
	var finishReason string
	var streamErr error

	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
			break
		}
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
		if ev.ContentDelta != "" {
			currentText += ev.ContentDelta
			onChunk(ev.ContentDelta, false, false)
		}
		for _, d := range ev.ToolCallDeltas {
			tc, ok := pending[d.Index]
			if !ok {
				tc = &models.ToolCallRequest{}
				pending[d.Index] = tc
				order = append(order, d.Index)
			}
			if d.ID != "" {
				tc.ID += d.ID
			}
			if d.Name != "" {
				tc.Name += d.Name
			}
			tc.ArgumentsJSON += d.Arguments
			onChunk("", false, true)
		}
		if ev.FinishReason != "" {
			finishReason = ev.FinishReason
		}
	}

	if ctx.Err() != nil {
		return &forgeerr.CancelledError{Op: "agentloop"}
	}
	if streamErr != nil {
		return &forgeerr.TransportError{Op: "agentloop:stream", Cause: streamErr}
	}

	onChunk("", true, false)

	sort.Ints(order)
	var toolCalls []models.ToolCallRequest
	for _, idx := range order {
		toolCalls = append(toolCalls, *pending[idx])
	}

	// AppendAssistant.
	agent.AppendMessage(models.Message{
		Role:      models.RoleAssistant,
		Content:   models.TextContent(currentText),
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	})

	if finishReason != "tool_calls" || len(toolCalls) == 0 {
		return nil
	}

	// DispatchTools.
	if err := l.dispatchTools(ctx, agent, toolCalls); err != nil {
		return err
	}

	return l.runAt(ctx, agent, "", ContinuationNudge, onChunk, depth+1)
}

// buildRequest composes the chat request per spec.md §4.6: trimmed
// history, tool definitions filtered by the allowlist, and the
// model's sampling configuration.
func (l *Loop) buildRequest(agent *models.Agent) transport.Request {
	cfg := agent.Config
	messages := agent.History()
	if cfg.MaintainHistory && cfg.MaxHistoryMessages > 0 {
		messages = trimHistory(messages, cfg.MaxHistoryMessages)
		agent.ReplaceHistory(messages)
	}

	var tools []models.ToolDefinition
	if cfg.EnableTools && l.registry != nil {
		tools = l.registry.ToolDefinitions(cfg.ToolAllowlist)
	}

	return transport.Request{
		Model:       cfg.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
		Stream:      true,
	}
}

// trimHistory drops non-system messages from the front until the
// non-system count is at most max. System messages are always kept and
// never count against the cap, per spec.md §4.6's BuildRequest rule.
func trimHistory(messages []models.Message, max int) []models.Message {
	nonSystem := 0
	for _, m := range messages {
		if m.Role != models.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= max {
		return messages
	}

	toDrop := nonSystem - max
	out := make([]models.Message, 0, len(messages)-toDrop)
	for _, m := range messages {
		if m.Role != models.RoleSystem && toDrop > 0 {
			toDrop--
			continue
		}
		out = append(out, m)
	}
	return out
}

// dispatchTools resolves, executes, and appends tool results in
// emission order, per spec.md §4.6's DispatchTools ordering guarantee:
// assistant-with-tool-calls -> tool_1 -> ... -> tool_n.
func (l *Loop) dispatchTools(ctx context.Context, agent *models.Agent, toolCalls []models.ToolCallRequest) error {
	// parseErrs[i] is set when toolCalls[i].ArgumentsJSON is non-empty
	// but not valid JSON (spec.md §4.6 DispatchTools step 2: on parse
	// error, append a failure tool message rather than executing the
	// tool). An empty arguments string is not a parse error: it means
	// "no arguments" and is normalized to "{}".
	parseErrs := make([]error, len(toolCalls))
	calls := make([]toolkit.Call, 0, len(toolCalls))
	callIndex := make([]int, 0, len(toolCalls))
	for i, tc := range toolCalls {
		args := tc.ArgumentsJSON
		switch {
		case args == "":
			args = "{}"
		case !json.Valid([]byte(args)):
			parseErrs[i] = fmt.Errorf("arguments are not valid JSON")
			continue
		}
		calls = append(calls, toolkit.Call{ID: tc.ID, Name: tc.Name, ArgumentsJSON: args})
		callIndex = append(callIndex, i)
		agent.EmitToolCall(models.ToolCallEvent{AgentID: agent.ID, Name: tc.Name, RawArgsJSON: tc.ArgumentsJSON, OccurredAt: time.Now()})
	}

	var results []toolkit.Result
	if l.runtime != nil {
		results = l.runtime.ExecuteAll(ctx, calls)
	} else {
		results = make([]toolkit.Result, len(calls))
	}
	resultByIndex := make(map[int]toolkit.Result, len(results))
	for j, res := range results {
		if j < len(callIndex) {
			resultByIndex[callIndex[j]] = res
		}
	}

	messages := make([]models.Message, 0, len(toolCalls))
	for i, tc := range toolCalls {
		if parseErrs[i] != nil {
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    models.TextContent(fmt.Sprintf("Invalid arguments for tool '%s': %v", tc.Name, parseErrs[i])),
				ToolCallID: tc.ID,
				Name:       tc.Name,
				CreatedAt:  time.Now(),
			})
			continue
		}

		if l.registry != nil && !l.registry.Contains(tc.Name) {
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    models.TextContent(fmt.Sprintf("Tool '%s' not found", tc.Name)),
				ToolCallID: tc.ID,
				Name:       tc.Name,
				CreatedAt:  time.Now(),
			})
			continue
		}

		res := resultByIndex[i]

		var content string
		if res.Err != nil {
			content = res.Err.Error()
		} else if res.Result.Success {
			if res.Result.FormattedOutput != "" {
				content = res.Result.FormattedOutput
			} else if b, err := json.Marshal(res.Result.RawData); err == nil {
				content = string(b)
			}
		} else {
			content = res.Result.Error
		}

		messages = append(messages, models.Message{
			Role:       models.RoleTool,
			Content:    models.TextContent(content),
			ToolCallID: tc.ID,
			Name:       tc.Name,
			CreatedAt:  time.Now(),
		})

		if l.recorder != nil {
			l.recorder.RecordToolCall(ctx, agent.ID, tc, res.Result, res.Err, res.Duration)
		}
	}

	agent.AppendMessages(messages...)
	return nil
}

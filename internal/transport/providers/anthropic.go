package providers

import (
	"context"
	"errors"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/transport"
)

// AnthropicConfig configures the Anthropic Messages API provider.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements transport.Provider over
// github.com/anthropics/anthropic-sdk-go, demonstrating the same
// FailoverReason-based error mapping against a second wire shape.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        transport.RetryPolicy
}

// NewAnthropicProvider builds an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &forgeerr.ConfigError{Section: "transport.anthropic", Message: "API key is required"}
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicProvider{
		client:       client,
		defaultModel: model,
		retry:        transport.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Create issues a non-streaming Messages API request.
func (p *AnthropicProvider) Create(ctx context.Context, req transport.Request) (transport.Response, error) {
	params := p.buildParams(req)

	var resp *anthropic.Message
	lastErr := p.retry.Retry(ctx, p.isRetryableError, func() error {
		var err error
		resp, err = p.client.Messages.New(ctx, params)
		return err
	})
	if lastErr != nil {
		if ctx.Err() != nil {
			return transport.Response{}, &forgeerr.CancelledError{Op: "transport.create"}
		}
		return transport.Response{}, p.wrapError(lastErr)
	}

	out := transport.Response{FinishReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
				ID:            variant.ID,
				Name:          variant.Name,
				ArgumentsJSON: string(variant.Input),
			})
		}
	}
	if len(out.ToolCalls) > 0 && out.FinishReason == "" {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

// Stream issues a streaming Messages API request, translating
// content_block_delta/content_block_start events into ChunkEvents.
func (p *AnthropicProvider) Stream(ctx context.Context, req transport.Request) (<-chan transport.ChunkEvent, error) {
	params := p.buildParams(req)
	out := make(chan transport.ChunkEvent)

	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		toolIndex := map[string]int{}
		nextIndex := 0

		for stream.Next() {
			if ctx.Err() != nil {
				out <- transport.ChunkEvent{Err: &forgeerr.CancelledError{Op: "transport.stream"}}
				return
			}
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					idx := nextIndex
					nextIndex++
					toolIndex[tu.ID] = idx
					out <- transport.ChunkEvent{ToolCallDeltas: []transport.ToolCallDelta{{
						Index: idx, ID: tu.ID, Name: tu.Name,
					}}}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- transport.ChunkEvent{ContentDelta: delta.Text}
				case anthropic.InputJSONDelta:
					out <- transport.ChunkEvent{ToolCallDeltas: []transport.ToolCallDelta{{
						Index: nextIndex - 1, Arguments: delta.PartialJSON,
					}}}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Delta.StopReason != "" {
					out <- transport.ChunkEvent{FinishReason: string(variant.Delta.StopReason)}
				}
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				out <- transport.ChunkEvent{Err: &forgeerr.CancelledError{Op: "transport.stream"}}
				return
			}
			out <- transport.ChunkEvent{Err: p.wrapError(err)}
		}
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req transport.Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var systemPrompt string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			systemPrompt = m.Content.String()
		case models.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content.String())))
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content.String())))
		case models.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content.String(), false)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, d := range req.Tools {
			tools[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: d.Parameters.Properties,
				},
			}}
		}
		params.Tools = tools
	}
	return params
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return transport.ClassifyStatusCode(apiErr.StatusCode).IsRetryable()
	}
	return transport.ClassifyError(err).IsRetryable()
}

func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return transport.MapHTTPError(apiErr.StatusCode, "anthropic", "", apiErr.Error(), apiErr.Error())
	}
	return &forgeerr.TransportError{Op: "transport.anthropic", Cause: err}
}

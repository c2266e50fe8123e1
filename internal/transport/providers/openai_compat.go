// Package providers holds concrete transport.Provider implementations,
// one per wired chat backend, grounded on the teacher's
// internal/agent/providers/{openrouter,anthropic,bedrock}.go family.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/transport"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatConfig configures an OpenAI-compatible endpoint: the
// default OpenRouter-style deployment named in spec.md §6, or any other
// OpenAI-wire-compatible host.
type OpenAICompatConfig struct {
	APIKey       string
	BaseURL      string // e.g. https://openrouter.ai/api/v1
	DefaultModel string
	AppName      string // sent as the X-Title attribution header
	SiteURL      string // sent as the HTTP-Referer attribution header
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAICompatProvider implements transport.Provider over
// github.com/sashabaranov/go-openai, whose stream reader performs the
// raw `data: <json>` / `[DONE]` SSE parsing spec.md §4.1/§6 describes.
type OpenAICompatProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	retry        transport.RetryPolicy
}

// NewOpenAICompatProvider builds a provider bound to baseURL. name
// identifies the provider for error attribution (e.g. "openrouter").
func NewOpenAICompatProvider(name string, cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.APIKey == "" {
		return nil, &forgeerr.ConfigError{Section: "transport." + name, Message: "API key is required"}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.AppName != "" || cfg.SiteURL != "" {
		clientCfg.HTTPClient.Transport = &attributionRoundTripper{
			base:    clientCfg.HTTPClient.Transport,
			appName: cfg.AppName,
			siteURL: cfg.SiteURL,
		}
	}
	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         name,
		defaultModel: cfg.DefaultModel,
		retry:        transport.NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier used in error attribution.
func (p *OpenAICompatProvider) Name() string { return p.name }

// Create issues a non-streaming chat-completions request.
func (p *OpenAICompatProvider) Create(ctx context.Context, req transport.Request) (transport.Response, error) {
	chatReq := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	lastErr := p.retry.Retry(ctx, p.isRetryableError, func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		return err
	})
	if lastErr != nil {
		if ctx.Err() != nil {
			return transport.Response{}, &forgeerr.CancelledError{Op: "transport.create"}
		}
		return transport.Response{}, p.wrapError(lastErr)
	}
	if len(resp.Choices) == 0 {
		return transport.Response{}, &forgeerr.ProtocolError{Detail: "response contained no choices"}
	}

	choice := resp.Choices[0]
	calls := make([]models.ToolCallRequest, len(choice.Message.ToolCalls))
	for i, tc := range choice.Message.ToolCalls {
		calls[i] = models.ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments}
	}
	return transport.Response{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Stream issues a streaming chat-completions request and returns a
// channel of decoded ChunkEvents.
func (p *OpenAICompatProvider) Stream(ctx context.Context, req transport.Request) (<-chan transport.ChunkEvent, error) {
	chatReq := p.buildRequest(req, true)

	var stream *openai.ChatCompletionStream
	lastErr := p.retry.Retry(ctx, p.isRetryableError, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if lastErr != nil {
		if ctx.Err() != nil {
			return nil, &forgeerr.CancelledError{Op: "transport.stream"}
		}
		return nil, p.wrapError(lastErr)
	}

	out := make(chan transport.ChunkEvent)
	go p.pump(ctx, stream, out)
	return out, nil
}

func (p *OpenAICompatProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- transport.ChunkEvent) {
	defer close(out)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			out <- transport.ChunkEvent{Err: &forgeerr.CancelledError{Op: "transport.stream"}}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				out <- transport.ChunkEvent{Err: &forgeerr.CancelledError{Op: "transport.stream"}}
				return
			}
			out <- transport.ChunkEvent{Err: p.wrapError(err)}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		ev := transport.ChunkEvent{
			ContentDelta: choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			ev.ToolCallDeltas = append(ev.ToolCallDeltas, transport.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out <- ev
	}
}

func (p *OpenAICompatProvider) buildRequest(req transport.Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

func convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content.String()}
		switch m.Role {
		case models.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON,
						},
					}
				}
			}
		case models.RoleTool:
			oaiMsg.ToolCallID = m.ToolCallID
			oaiMsg.Name = m.Name
		}
		out = append(out, oaiMsg)
	}
	return out
}

func convertTools(defs []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(defs))
	for i, d := range defs {
		params, _ := json.Marshal(d.Parameters)
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  json.RawMessage(params),
			},
		}
	}
	return out
}

func (p *OpenAICompatProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transport.ClassifyStatusCode(apiErr.HTTPStatusCode).IsRetryable()
	}
	return transport.ClassifyError(err).IsRetryable()
}

func (p *OpenAICompatProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		snippet := fmt.Sprintf("%v", apiErr.Message)
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprintf("%v", apiErr.Code)
		}
		return transport.MapHTTPError(apiErr.HTTPStatusCode, p.name, code, apiErr.Message, snippet)
	}
	return &forgeerr.TransportError{Op: "transport." + p.name, Cause: err}
}

// attributionRoundTripper adds OpenRouter's recommended attribution
// headers (X-Title, HTTP-Referer) to every request.
type attributionRoundTripper struct {
	base    http.RoundTripper
	appName string
	siteURL string
}

func (rt *attributionRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.appName != "" {
		req.Header.Set("X-Title", rt.appName)
	}
	if rt.siteURL != "" {
		req.Header.Set("HTTP-Referer", rt.siteURL)
	}
	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

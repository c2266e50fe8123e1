// Package transport implements C1: the chat-completions HTTP/SSE client
// contract. It exposes a provider-agnostic Provider interface plus
// concrete implementations in the providers subpackage, each built on
// the SDK the teacher pairs with that backend.
package transport

import (
	"context"

	"github.com/forgehq/forge/internal/models"
)

// ToolCallDelta is one partial tool-call fragment from a streamed
// response, indexed by position within the assistant's tool_calls list.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ChunkEvent is one decoded SSE frame from the streaming chat endpoint.
type ChunkEvent struct {
	ContentDelta   string
	ToolCallDeltas []ToolCallDelta
	FinishReason   string // "", "stop", "length", "tool_calls", "content_filter"
	Err            error
}

// Request is the chat-completions request envelope.
type Request struct {
	Model       string
	Messages    []models.Message
	Tools       []models.ToolDefinition
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stream      bool
}

// Response is the non-streaming chat-completions result.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCallRequest
	FinishReason string
}

// Provider is the contract every wired chat backend implements: a
// non-streaming create and a streaming call that returns a channel of
// ChunkEvent. Implementations must close the returned channel exactly
// once and must observe ctx cancellation by aborting the underlying
// connection and emitting a Cancelled error as the final event.
type Provider interface {
	Name() string
	Create(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan ChunkEvent, error)
}

// Package models holds the wire/domain entities shared across forge's
// components: conversation messages, tool call plumbing, agent
// configuration, task records, and patch primitives.
package models

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content is a tagged variant: a message body is either plain text or a
// structured JSON value. Only one of the two fields is meaningful,
// selected by IsStructured.
type Content struct {
	Text         string
	Structured   any
	IsStructured bool
}

// TextContent builds a plain-text Content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// StructuredContent builds a structured (JSON-valued) Content.
func StructuredContent(value any) Content {
	return Content{Structured: value, IsStructured: true}
}

// String renders the content for wire transmission and for display; a
// structured value is JSON-encoded on demand by the caller, not here, so
// this package stays decoupled from any particular encoder.
func (c Content) String() string {
	if c.IsStructured {
		return ""
	}
	return c.Text
}

// ToolCallRequest is a model-emitted request to invoke a named tool.
type ToolCallRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Message is one immutable turn in a conversation. Ordering within a
// session is total and preserved; once appended to an Agent's history a
// Message is never mutated.
type Message struct {
	ID         string
	Role       Role
	Content    Content
	ToolCalls  []ToolCallRequest // only set when Role == RoleAssistant
	ToolCallID string            // only set when Role == RoleTool
	Name       string            // tool name, only set when Role == RoleTool
	CreatedAt  time.Time
}

// ToolDefinition is emitted to the model verbatim as part of the
// request's tools array.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ToolParamSchema `json:"parameters"`
}

// ToolParamSchema is a minimal JSON-schema object shape: type=object,
// properties, required.
type ToolParamSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// ToolResult is what a Tool.Execute call returns. Success implies Error
// is empty; a failed tool never aborts the agent loop that dispatched it.
type ToolResult struct {
	Success         bool
	RawData         any
	FormattedOutput string
	Error           string
}

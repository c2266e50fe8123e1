package models

import (
	"context"
	"encoding/json"
)

// Tool is the capability set every registered tool implements. Tools are
// expected to be stateless across calls, or to document their own
// thread-safety if they hold state.
type Tool interface {
	Name() string
	Description() string
	ParameterSchema() ToolParamSchema
	RequiredParams() []string
	DisplaySummary(params json.RawMessage) string
	Execute(ctx context.Context, params json.RawMessage) (ToolResult, error)
}

// ConcurrencySafe is implemented by tools that declare themselves safe
// to run concurrently with other invocations of the same tool instance.
// toolkit.Runtime does not consult this interface: executions of the
// same tool instance may run concurrently up to its MaxConcurrency bound.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

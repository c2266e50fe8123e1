// Package toolkit implements the tool registry (C2) and tool runtime
// (C3): a process-wide, case-insensitive tool map plus a concurrency-
// bounded executor with per-tool timeout, retry, and panic recovery.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/forgehq/forge/internal/models"
	"github.com/forgehq/forge/internal/obs"
)

// Tool name/parameter size limits, preventing resource exhaustion from a
// pathological model response.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)

// Registry is a process-wide mapping name -> Tool, case-insensitive.
// Two tools cannot share a name: the last registration wins and a
// warning is logged (spec's documented choice, matching the source's
// own last-write-wins map assignment).
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]models.Tool
	logger *obs.Logger
}

// NewRegistry creates an empty Registry. logger may be nil, in which
// case duplicate-registration warnings are dropped.
func NewRegistry(logger *obs.Logger) *Registry {
	return &Registry{tools: make(map[string]models.Tool), logger: logger}
}

func key(name string) string { return strings.ToLower(name) }

// Register adds a tool, replacing any existing tool under the same
// case-insensitive name.
func (r *Registry) Register(tool models.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tool.Name())
	if _, exists := r.tools[k]; exists && r.logger != nil {
		r.logger.Warn(context.Background(), "duplicate tool registration, replacing existing tool", "tool", tool.Name())
	}
	r.tools[k] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, key(name))
}

// Get looks up a tool by name, case-insensitively.
func (r *Registry) Get(name string) (models.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[key(name)]
	return t, ok
}

// Contains reports whether a tool is registered under name.
func (r *Registry) Contains(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// ListAll returns every registered tool; iteration enumerates each tool
// exactly once (T3).
func (r *Registry) ListAll() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ToolDefinitions returns a stable JSON-schema array of every registered
// tool, optionally restricted to names in filter (nil means no filter).
func (r *Registry) ToolDefinitions(filter []string) []models.ToolDefinition {
	var allow map[string]bool
	if filter != nil {
		allow = make(map[string]bool, len(filter))
		for _, f := range filter {
			allow[key(f)] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for k, t := range r.tools {
		if allow != nil && !allow[k] {
			continue
		}
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParameterSchema(),
		})
	}
	return defs
}

// Execute validates name/params size bounds and dispatches to the
// registered tool. A missing tool or oversized input is reported as a
// failed ToolResult, never as an error return, matching C3's contract
// that validation failures never escalate to a transport-level error.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}, nil
	}
	if len(params) > MaxToolParamsBytes {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsBytes)}, nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("Tool '%s' not found", name)}, nil
	}
	return tool.Execute(ctx, params)
}

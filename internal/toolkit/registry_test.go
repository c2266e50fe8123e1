package toolkit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgehq/forge/internal/models"
)

type stubTool struct {
	name    string
	execute func(ctx context.Context, params json.RawMessage) (models.ToolResult, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool for tests" }
func (s *stubTool) ParameterSchema() models.ToolParamSchema {
	return models.ToolParamSchema{Type: "object", Properties: map[string]any{}}
}
func (s *stubTool) RequiredParams() []string { return nil }
func (s *stubTool) DisplaySummary(params json.RawMessage) string { return s.name }
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolResult, error) {
	if s.execute != nil {
		return s.execute(ctx, params)
	}
	return models.ToolResult{Success: true}, nil
}

func TestRegistry_RegisterGetCaseInsensitive(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "Echo"})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatalf("expected to find tool registered under different case")
	}
	if tool.Name() != "Echo" {
		t.Errorf("got tool name %q, want %q", tool.Name(), "Echo")
	}
	if !r.Contains("ECHO") {
		t.Errorf("Contains should be case-insensitive")
	}
}

func TestRegistry_DuplicateRegistrationLastWriteWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "dup", execute: func(ctx context.Context, params json.RawMessage) (models.ToolResult, error) {
		return models.ToolResult{Success: true, FormattedOutput: "first"}, nil
	}})
	r.Register(&stubTool{name: "dup", execute: func(ctx context.Context, params json.RawMessage) (models.ToolResult, error) {
		return models.ToolResult{Success: true, FormattedOutput: "second"}, nil
	}})

	if len(r.ListAll()) != 1 {
		t.Fatalf("expected exactly one tool after duplicate registration, got %d", len(r.ListAll()))
	}
	res, err := r.Execute(context.Background(), "dup", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FormattedOutput != "second" {
		t.Errorf("expected last registration to win, got %q", res.FormattedOutput)
	}
}

func TestRegistry_ExecuteUnknownToolReturnsFailedResult(t *testing.T) {
	r := NewRegistry(nil)
	res, err := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unknown tool should not surface a transport error, got %v", err)
	}
	if res.Success {
		t.Errorf("expected Success=false for unknown tool")
	}
	want := "Tool 'nope' not found"
	if res.Error != want {
		t.Errorf("got error %q, want %q", res.Error, want)
	}
}

func TestRegistry_ToolDefinitionsFilter(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})

	defs := r.ToolDefinitions([]string{"a"})
	if len(defs) != 1 || defs[0].Name != "a" {
		t.Fatalf("expected exactly [a], got %+v", defs)
	}

	all := r.ToolDefinitions(nil)
	if len(all) != 2 {
		t.Errorf("expected 2 definitions unfiltered, got %d", len(all))
	}
}

func TestRegistry_ListAllEnumeratesOnce(t *testing.T) {
	r := NewRegistry(nil)
	names := []string{"one", "two", "three"}
	for _, n := range names {
		r.Register(&stubTool{name: n})
	}
	seen := make(map[string]int)
	for _, t := range r.ListAll() {
		seen[t.Name()]++
	}
	for _, n := range names {
		if seen[n] != 1 {
			t.Errorf("tool %q enumerated %d times, want 1", n, seen[n])
		}
	}
}

package patchtool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgehq/forge/internal/patch"
)

func writeTempFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
}

func TestToolExecuteAppliesLocalDialect(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "F", "line one\nline two\nline three\n")

	engine := patch.NewEngine(patch.Config{Workspace: dir}, nil)
	tool := New(engine)

	params, err := json.Marshal(map[string]any{
		"target_file": "F",
		"code_edit":   "*** Update File: F\n@@ line two @@\n line one\n line two\n+inserted\n line three\n",
	})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	data, err := os.ReadFile(filepath.Join(dir, "F"))
	if err != nil {
		t.Fatalf("read applied file: %v", err)
	}
	if string(data) != "line one\nline two\ninserted\nline three\n" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}

func TestToolExecuteRejectsMissingFields(t *testing.T) {
	tool := New(patch.NewEngine(patch.Config{Workspace: t.TempDir()}, nil))

	params, _ := json.Marshal(map[string]any{"target_file": ""})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure for missing target_file")
	}
}

func TestToolExecuteRejectsUnknownStrategy(t *testing.T) {
	tool := New(patch.NewEngine(patch.Config{Workspace: t.TempDir()}, nil))

	params, _ := json.Marshal(map[string]any{
		"target_file": "F",
		"code_edit":   "anything",
		"strategy":    "bogus",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure for an unknown strategy")
	}
}

func TestDisplaySummaryIncludesTargetFile(t *testing.T) {
	tool := New(patch.NewEngine(patch.Config{Workspace: t.TempDir()}, nil))
	params, _ := json.Marshal(map[string]any{"target_file": "main.go"})
	if got := tool.DisplaySummary(params); got != "apply_patch(main.go)" {
		t.Fatalf("unexpected summary: %q", got)
	}
}

package patch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgehq/forge/internal/models"
)

type recordingMetrics struct {
	records []models.DiffMetric
}

func (r *recordingMetrics) Record(m models.DiffMetric) {
	r.records = append(r.records, m)
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestEngine_ApplyLocalInsertsHunk(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "F", "line one\nline two\nline three\n")

	metrics := &recordingMetrics{}
	engine := NewEngine(Config{Workspace: dir}, metrics)

	codeEdit := "*** Update File: F\n@@ line two @@\n line one\n line two\n+line two and a half\n line three\n"
	result, err := engine.Apply(context.Background(), Request{
		TargetFile: "F",
		CodeEdit:   codeEdit,
		Strategy:   models.StrategyAuto,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.StrategyUsed != models.StrategyLocal {
		t.Fatalf("expected local strategy, got %v", result.StrategyUsed)
	}

	got, err := os.ReadFile(filepath.Join(dir, "F"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	want := "line one\nline two\nline two and a half\nline three\n"
	if string(got) != want {
		t.Fatalf("content = %q, want %q", got, want)
	}
	if len(metrics.records) != 1 {
		t.Fatalf("expected exactly one DiffMetric, got %d", len(metrics.records))
	}
	if !metrics.records[0].Success {
		t.Fatalf("expected metric.Success = true")
	}
}

func TestEngine_ApplyLocalAtomicityOnSecondHunkFailure(t *testing.T) {
	dir := t.TempDir()
	original := "line one\nline two\nline three\n"
	writeTempFile(t, dir, "F", original)

	metrics := &recordingMetrics{}
	engine := NewEngine(Config{Workspace: dir}, metrics)

	codeEdit := "*** Update File: F\n" +
		"@@ line two @@\n line one\n line two\n+inserted\n line three\n" +
		"@@ does not exist anywhere @@\n does not exist anywhere\n+more\n"
	_, err := engine.Apply(context.Background(), Request{
		TargetFile: "F",
		CodeEdit:   codeEdit,
		Strategy:   models.StrategyLocal,
	})
	if err == nil {
		t.Fatalf("expected PatchError for missing anchor, got nil")
	}

	got, readErr := os.ReadFile(filepath.Join(dir, "F"))
	if readErr != nil {
		t.Fatalf("read file: %v", readErr)
	}
	if string(got) != original {
		t.Fatalf("file was modified despite hunk failure: got %q, want unchanged %q", got, original)
	}
	if len(metrics.records) != 1 || metrics.records[0].Success {
		t.Fatalf("expected one failed DiffMetric record")
	}
}

func TestEngine_ApplyLocalAddFile(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(Config{Workspace: dir}, nil)

	codeEdit := "*** Add File: new.txt\nhello\nworld\n"
	_, err := engine.Apply(context.Background(), Request{
		TargetFile: "new.txt",
		CodeEdit:   codeEdit,
		Strategy:   models.StrategyLocal,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	if err != nil {
		t.Fatalf("read new file: %v", err)
	}
	if string(got) != "hello\nworld\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestEngine_ApplyLocalDeleteFile(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "gone.txt", "bye\n")
	engine := NewEngine(Config{Workspace: dir}, nil)

	codeEdit := "*** Delete File: gone.txt\n"
	_, err := engine.Apply(context.Background(), Request{
		TargetFile: "gone.txt",
		CodeEdit:   codeEdit,
		Strategy:   models.StrategyLocal,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("expected file to be removed, stat err = %v", statErr)
	}
}

func TestEngine_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	original := "line one\nline two\nline three\n"
	writeTempFile(t, dir, "F", original)
	engine := NewEngine(Config{Workspace: dir}, nil)

	codeEdit := "*** Update File: F\n@@ line two @@\n line one\n line two\n+inserted\n line three\n"
	_, err := engine.Apply(context.Background(), Request{
		TargetFile: "F",
		CodeEdit:   codeEdit,
		Strategy:   models.StrategyLocal,
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "F"))
	if string(got) != original {
		t.Fatalf("dry run modified file: got %q", got)
	}
}

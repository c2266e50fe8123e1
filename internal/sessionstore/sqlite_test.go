package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/forgehq/forge/internal/models"
)

func openTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Dispose(context.Background()) })
	return store
}

func TestSQLiteStoreSessionAndMessageLifecycle(t *testing.T) {
	store := openTestSQLiteStore(t)
	ctx := context.Background()

	sessionID, err := store.CreateSession(ctx, CreateSessionParams{
		Name:      "primary",
		Type:      "agent",
		AgentName: "worker",
		Model:     "gpt-5",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sessionID == "" {
		t.Fatalf("expected a non-empty session id")
	}

	msgID, err := store.SaveMessage(ctx, sessionID, models.Message{Role: models.RoleUser, Content: models.TextContent("hello")})
	if err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if msgID == "" {
		t.Fatalf("expected a non-empty message id")
	}

	toolCallID, err := store.SaveToolCall(ctx, msgID, sessionID, "read_file", `{"path":"a.go"}`, "worker")
	if err != nil {
		t.Fatalf("SaveToolCall() error = %v", err)
	}
	if toolCallID == "" {
		t.Fatalf("expected a non-empty tool call id")
	}

	if err := store.UpdateToolCallResult(ctx, toolCallID, "contents", "", 12); err != nil {
		t.Fatalf("UpdateToolCallResult() error = %v", err)
	}

	var resultText string
	var elapsedMs int64
	row := store.db.QueryRowContext(ctx, "SELECT result_text, elapsed_ms FROM tool_calls WHERE id = ?", toolCallID)
	if err := row.Scan(&resultText, &elapsedMs); err != nil {
		t.Fatalf("scan tool call row: %v", err)
	}
	if resultText != "contents" || elapsedMs != 12 {
		t.Fatalf("unexpected tool call row: result=%q elapsed=%d", resultText, elapsedMs)
	}
}

func TestSQLiteStoreUpdateToolCallResultRejectsUnknownID(t *testing.T) {
	store := openTestSQLiteStore(t)
	if err := store.UpdateToolCallResult(context.Background(), "missing", "x", "", 0); err == nil {
		t.Fatalf("expected an error updating an unknown tool call")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	sessionID, err := store.CreateSession(ctx, CreateSessionParams{Name: "primary", Type: "agent", AgentName: "worker", Model: "gpt-5"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.Dispose(ctx); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen OpenSQLiteStore() error = %v", err)
	}
	defer reopened.Dispose(ctx)

	var name string
	row := reopened.db.QueryRowContext(ctx, "SELECT name FROM sessions WHERE id = ?", sessionID)
	if err := row.Scan(&name); err != nil {
		t.Fatalf("expected session %q to survive reopen: %v", sessionID, err)
	}
	if name != "primary" {
		t.Fatalf("unexpected session name after reopen: %q", name)
	}
}

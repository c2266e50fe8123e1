package sessionstore

import (
	"context"
	"testing"

	"github.com/forgehq/forge/internal/models"
)

func TestMemoryStoreSessionAndMessageLifecycle(t *testing.T) {
	store := NewMemoryStore()
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

	if err := store.UpdateToolCallResult(ctx, toolCallID, "contents", "", 12); err != nil {
		t.Fatalf("UpdateToolCallResult() error = %v", err)
	}

	rec := store.toolCalls[toolCallID]
	if rec.ResultText != "contents" || rec.ElapsedMs != 12 {
		t.Fatalf("unexpected tool call record: %+v", rec)
	}

	if err := store.Dispose(ctx); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
}

func TestMemoryStoreSaveMessageRejectsUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.SaveMessage(context.Background(), "missing", models.Message{}); err == nil {
		t.Fatalf("expected an error saving to an unknown session")
	}
}

func TestMemoryStoreUpdateToolCallResultRejectsUnknownID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.UpdateToolCallResult(context.Background(), "missing", "x", "", 0); err == nil {
		t.Fatalf("expected an error updating an unknown tool call")
	}
}

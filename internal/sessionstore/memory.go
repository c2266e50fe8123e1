package sessionstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/models"
)

// MemoryStore is an in-memory Store for testing and local runs,
// grounded on the teacher's MemoryStore (internal/sessions/memory.go):
// mutex-guarded maps and UUID ids. Records are stored as passed in,
// without cloning.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	messages  map[string]*MessageRecord
	toolCalls map[string]*ToolCallRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  map[string]*Session{},
		messages:  map[string]*MessageRecord{},
		toolCalls: map[string]*ToolCallRecord{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, params CreateSessionParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.sessions[id] = &Session{
		ID:           id,
		Name:         params.Name,
		Type:         params.Type,
		ParentID:     params.ParentID,
		AgentName:    params.AgentName,
		Model:        params.Model,
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (m *MemoryStore) SaveMessage(ctx context.Context, sessionID string, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return "", errors.New("sessionstore: session not found")
	}
	id := uuid.NewString()
	m.messages[id] = &MessageRecord{
		ID:        id,
		SessionID: sessionID,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *MemoryStore) SaveToolCall(ctx context.Context, messageID, sessionID, toolName, argsJSON, agentName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return "", errors.New("sessionstore: session not found")
	}
	id := uuid.NewString()
	m.toolCalls[id] = &ToolCallRecord{
		ID:        id,
		MessageID: messageID,
		SessionID: sessionID,
		ToolName:  toolName,
		ArgsJSON:  argsJSON,
		AgentName: agentName,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *MemoryStore) UpdateToolCallResult(ctx context.Context, toolCallID string, resultText string, errText string, elapsedMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.toolCalls[toolCallID]
	if !ok {
		return errors.New("sessionstore: tool call not found")
	}
	rec.ResultText = resultText
	rec.Error = errText
	rec.ElapsedMs = elapsedMs
	rec.ResolvedAt = time.Now()
	return nil
}

// Dispose is a no-op for the in-memory store; nothing to release.
func (m *MemoryStore) Dispose(ctx context.Context) error {
	return nil
}

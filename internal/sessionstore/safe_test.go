package sessionstore

import (
	"context"
	"errors"
	"testing"

	"github.com/forgehq/forge/internal/models"
)

type failingStore struct{ Store }

func (failingStore) CreateSession(ctx context.Context, params CreateSessionParams) (string, error) {
	return "", errors.New("boom")
}

func TestSafePersisterSwallowsStoreErrors(t *testing.T) {
	p := &SafePersister{Store: failingStore{}}
	if err := p.CreateSession(context.Background(), "agent-1", models.AgentConfig{Name: "worker"}); err != nil {
		t.Fatalf("expected CreateSession to swallow the store error, got %v", err)
	}
}

func TestSafePersisterNilStoreIsNoop(t *testing.T) {
	p := &SafePersister{}
	if err := p.CreateSession(context.Background(), "agent-1", models.AgentConfig{}); err != nil {
		t.Fatalf("expected a nil store to be a no-op, got %v", err)
	}
}

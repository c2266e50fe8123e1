package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/forgehq/forge/internal/models"
)

// SQLiteStore is the durable Store backend, grounded on the teacher's
// CockroachStore (internal/sessions/cockroach.go): prepared statements
// held for the store's lifetime, one DSN-opened *sql.DB. Swapped to
// modernc.org/sqlite (pure Go, no cgo, embeddable) rather than
// lib/pq/Cockroach since C8 is a contract-only component and forge runs
// as a single embedded process rather than against a shared cluster;
// see DESIGN.md for the full justification.
type SQLiteStore struct {
	db *sql.DB

	stmtCreateSession   *sql.Stmt
	stmtSaveMessage     *sql.Stmt
	stmtSaveToolCall    *sql.Stmt
	stmtUpdateToolCall  *sql.Stmt
}

// schema is applied once at open time; sqlite tolerates re-running
// CREATE TABLE IF NOT EXISTS on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	parent_id TEXT,
	agent_name TEXT NOT NULL,
	model TEXT NOT NULL,
	system_prompt TEXT,
	temperature REAL NOT NULL,
	max_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	tool_name TEXT NOT NULL,
	args_json TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	result_text TEXT,
	error TEXT,
	elapsed_ms INTEGER,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id);
`

// OpenSQLiteStore opens (creating if absent) the sqlite database at
// path and prepares its statements. path may be ":memory:" for a
// process-local ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn.

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, name, type, parent_id, agent_name, model, system_prompt, temperature, max_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sessionstore: prepare create session: %w", err)
	}

	s.stmtSaveMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, payload, created_at) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sessionstore: prepare save message: %w", err)
	}

	s.stmtSaveToolCall, err = s.db.Prepare(`
		INSERT INTO tool_calls (id, message_id, session_id, tool_name, args_json, agent_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sessionstore: prepare save tool call: %w", err)
	}

	s.stmtUpdateToolCall, err = s.db.Prepare(`
		UPDATE tool_calls SET result_text = ?, error = ?, elapsed_ms = ?, resolved_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("sessionstore: prepare update tool call: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, params CreateSessionParams) (string, error) {
	id := uuid.NewString()
	_, err := s.stmtCreateSession.ExecContext(ctx, id, params.Name, params.Type, nullable(params.ParentID),
		params.AgentName, params.Model, nullable(params.SystemPrompt), params.Temperature, params.MaxTokens, time.Now())
	if err != nil {
		return "", fmt.Errorf("sessionstore: create session: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg models.Message) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("sessionstore: encode message: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.stmtSaveMessage.ExecContext(ctx, id, sessionID, string(payload), time.Now()); err != nil {
		return "", fmt.Errorf("sessionstore: save message: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) SaveToolCall(ctx context.Context, messageID, sessionID, toolName, argsJSON, agentName string) (string, error) {
	id := uuid.NewString()
	if _, err := s.stmtSaveToolCall.ExecContext(ctx, id, messageID, sessionID, toolName, argsJSON, agentName, time.Now()); err != nil {
		return "", fmt.Errorf("sessionstore: save tool call: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateToolCallResult(ctx context.Context, toolCallID string, resultText string, errText string, elapsedMs int64) error {
	res, err := s.stmtUpdateToolCall.ExecContext(ctx, nullable(resultText), nullable(errText), elapsedMs, time.Now(), toolCallID)
	if err != nil {
		return fmt.Errorf("sessionstore: update tool call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sessionstore: update tool call: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sessionstore: tool call %q not found", toolCallID)
	}
	return nil
}

// Dispose closes the prepared statements and the underlying connection.
func (s *SQLiteStore) Dispose(ctx context.Context) error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtCreateSession, s.stmtSaveMessage, s.stmtSaveToolCall, s.stmtUpdateToolCall} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("sessionstore: dispose: %v", errs)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

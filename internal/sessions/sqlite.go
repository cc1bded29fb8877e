package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegis-dev/aegis/pkg/models"
)

// SQLiteStore persists sessions in a local SQLite database. Message
// bodies (tool calls, results, metadata) are stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens and migrates the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '[]',
	tool_results TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate session db: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateSession implements Store.
func (s *SQLiteStore) CreateSession(ctx context.Context, session models.Session) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	metadata, err := json.Marshal(orEmptyMap(session.Metadata))
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, title, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, string(metadata), session.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var session models.Session
	var metadata string
	if err := row.Scan(&session.ID, &session.Title, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return &session, nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, metadata, created_at, updated_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var session models.Session
		var metadata string
		if err := rows.Scan(&session.ID, &session.Title, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// DeleteSession implements Store.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	return err
}

// AppendMessage implements Store.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	toolCalls, toolResults, metadata, err := encodeMessageJSON(msg)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO messages (id, session_id, seq, role, content, reasoning, tool_calls, tool_results, metadata, created_at)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.SessionID, string(msg.Role), msg.Content, msg.Reasoning,
		toolCalls, toolResults, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), msg.SessionID)
	return err
}

// Messages implements Store.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, reasoning, tool_calls, tool_results, metadata, created_at
FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ReplaceMessages implements Store.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		toolCalls, toolResults, metadata, err := encodeMessageJSON(msg)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, session_id, seq, role, content, reasoning, tool_calls, tool_results, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, sessionID, i+1, string(msg.Role), msg.Content, msg.Reasoning,
			toolCalls, toolResults, metadata, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert replacement message: %w", err)
		}
	}
	return tx.Commit()
}

func encodeMessageJSON(msg models.Message) (toolCalls, toolResults, metadata string, err error) {
	tc, err := json.Marshal(orEmptySlice(msg.ToolCalls))
	if err != nil {
		return "", "", "", fmt.Errorf("encode tool calls: %w", err)
	}
	tr, err := json.Marshal(orEmptySliceResults(msg.ToolResults))
	if err != nil {
		return "", "", "", fmt.Errorf("encode tool results: %w", err)
	}
	md, err := json.Marshal(orEmptyMap(msg.Metadata))
	if err != nil {
		return "", "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(tc), string(tr), string(md), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, sessionID string) (models.Message, error) {
	var msg models.Message
	var role, toolCalls, toolResults, metadata string
	if err := row.Scan(&msg.ID, &role, &msg.Content, &msg.Reasoning, &toolCalls, &toolResults, &metadata, &msg.CreatedAt); err != nil {
		return msg, fmt.Errorf("scan message: %w", err)
	}
	msg.SessionID = sessionID
	msg.Role = models.Role(role)
	if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
		return msg, fmt.Errorf("decode tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(toolResults), &msg.ToolResults); err != nil {
		return msg, fmt.Errorf("decode tool results: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
		return msg, fmt.Errorf("decode metadata: %w", err)
	}
	if len(msg.ToolCalls) == 0 {
		msg.ToolCalls = nil
	}
	if len(msg.ToolResults) == 0 {
		msg.ToolResults = nil
	}
	if len(msg.Metadata) == 0 {
		msg.Metadata = nil
	}
	return msg, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []models.ToolCall) []models.ToolCall {
	if s == nil {
		return []models.ToolCall{}
	}
	return s
}

func orEmptySliceResults(s []models.ToolResult) []models.ToolResult {
	if s == nil {
		return []models.ToolResult{}
	}
	return s
}

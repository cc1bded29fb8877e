package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the allow-list and an audit trail of resolved
// approval requests in a local SQLite database. It implements both
// AllowList and AuditSink.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the approval database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open approval db: %w", err)
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
CREATE TABLE IF NOT EXISTS allow_list (
	pattern TEXT PRIMARY KEY,
	scope TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS approval_audit (
	id TEXT PRIMARY KEY,
	call_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL,
	args_summary TEXT NOT NULL DEFAULT '',
	pattern_key TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	decided_by TEXT NOT NULL DEFAULT '',
	feedback TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	decided_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON approval_audit(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON approval_audit(created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate approval db: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Add upserts an allow-list entry.
func (s *SQLiteStore) Add(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO allow_list (pattern, scope, created_at) VALUES (?, ?, ?)
ON CONFLICT(pattern) DO UPDATE SET scope = excluded.scope`,
		entry.Pattern, entry.Scope, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("add allow-list entry: %w", err)
	}
	return nil
}

// Remove deletes an allow-list entry.
func (s *SQLiteStore) Remove(ctx context.Context, pattern string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM allow_list WHERE pattern = ?`, pattern); err != nil {
		return fmt.Errorf("remove allow-list entry: %w", err)
	}
	return nil
}

// List returns all allow-list entries.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern, scope, created_at FROM allow_list ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list allow-list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Pattern, &e.Scope, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allow-list entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Record appends a resolved request to the audit trail.
func (s *SQLiteStore) Record(ctx context.Context, req *Request) error {
	var decidedAt any
	if !req.DecidedAt.IsZero() {
		decidedAt = req.DecidedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO approval_audit
	(id, call_id, session_id, tool_name, args_summary, pattern_key, status, decided_by, feedback, created_at, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CallID, req.SessionID, req.ToolName, req.ArgsSummary,
		req.PatternKey, string(req.Status), req.DecidedBy, req.Feedback,
		req.CreatedAt, decidedAt)
	if err != nil {
		return fmt.Errorf("record approval audit: %w", err)
	}
	return nil
}

// AuditEntries returns the most recent audit rows, newest first.
func (s *SQLiteStore) AuditEntries(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, call_id, session_id, tool_name, args_summary, pattern_key, status, decided_by, feedback, created_at, decided_at
FROM approval_audit ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query approval audit: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var r Request
		var status string
		var decidedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.CallID, &r.SessionID, &r.ToolName, &r.ArgsSummary,
			&r.PatternKey, &status, &r.DecidedBy, &r.Feedback, &r.CreatedAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan approval audit: %w", err)
		}
		r.Status = Status(status)
		if decidedAt.Valid {
			r.DecidedAt = decidedAt.Time
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PruneAudit deletes audit rows older than the retention window and
// returns the number removed.
func (s *SQLiteStore) PruneAudit(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM approval_audit WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune approval audit: %w", err)
	}
	return res.RowsAffected()
}

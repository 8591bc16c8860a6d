// Package history persists chat transcripts and run records in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Message is one transcript entry.
type Message struct {
	ID         int64  `json:"id"`
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
	Role       string `json:"role"` // user | assistant | tool | system
	Content    string `json:"content"`
	ToolName   string `json:"toolName,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // unix ms
}

// Run is one agent turn record.
type Run struct {
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId"`
	Status     string `json:"status"` // running | final | error | aborted
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	run_id      TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	tool_name   TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	agent_id    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_key, started_at);
`

// Store is the transcript database. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Append records one transcript message and returns its row id.
func (s *Store) Append(ctx context.Context, m Message) (int64, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_key, run_id, role, content, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.SessionKey, m.RunID, m.Role, m.Content, m.ToolName, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

// Messages returns the most recent transcript entries for a session in
// chronological order. limit <= 0 means everything.
func (s *Store) Messages(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	q := `SELECT id, session_key, run_id, role, content, tool_name, created_at
	      FROM messages WHERE session_key = ? ORDER BY id DESC`
	args := []any{sessionKey}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionKey, &m.RunID, &m.Role, &m.Content, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// BeginRun records the start of an agent turn.
func (s *Store) BeginRun(ctx context.Context, r Run) error {
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, session_key, agent_id, status, started_at, finished_at)
		 VALUES (?, ?, ?, 'running', ?, 0)`,
		r.RunID, r.SessionKey, r.AgentID, r.StartedAt)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's terminal status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		status, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Runs lists run records for a session, newest first.
func (s *Store) Runs(ctx context.Context, sessionKey string, limit int) ([]Run, error) {
	q := `SELECT run_id, session_key, agent_id, status, started_at, finished_at
	      FROM runs WHERE session_key = ? ORDER BY started_at DESC`
	args := []any{sessionKey}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.SessionKey, &r.AgentID, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes a session's transcript and runs.
func (s *Store) DeleteSession(ctx context.Context, sessionKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

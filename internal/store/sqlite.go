// Package store persists sessions and their messages in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SamInTheShell/delver/internal/chat"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// SessionSummary is a session row without its messages.
type SessionSummary struct {
	Session      chat.Session
	MessageCount int
}

type SQLiteStore struct {
	db *sql.DB
}

// Open creates the database file (and parent folders) if needed and applies
// the schema.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Keep sqlite responsive under contention.
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			context_mode TEXT NOT NULL,
			context_limit INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_ns);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			thinking TEXT,
			tool_name TEXT,
			tool_calls TEXT,
			created_at_ns INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (session_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session together with any messages it already
// carries (typically the system message).
func (s *SQLiteStore) CreateSession(sess *chat.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, name, context_mode, context_limit, model, created_at_ns, updated_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, string(sess.ContextMode), sess.ContextLimit, sess.Model,
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, msg := range sess.Messages {
		if err := insertMessage(tx, sess.ID, msg, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveSession updates a session's settings and timestamps.
func (s *SQLiteStore) SaveSession(sess *chat.Session) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET name = ?, context_mode = ?, context_limit = ?, model = ?, updated_at_ns = ?
		 WHERE id = ?`,
		sess.Name, string(sess.ContextMode), sess.ContextLimit, sess.Model,
		sess.UpdatedAt.UnixNano(), sess.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists one message at the end of a session and bumps the
// session's updated timestamp.
func (s *SQLiteStore) AppendMessage(sessionID string, msg chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return err
	}
	if err := insertMessage(tx, sessionID, msg, seq); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET updated_at_ns = ? WHERE id = ?`,
		time.Now().UnixNano(), sessionID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateMessage rewrites a message in place, keeping its position. Used after
// tool execution fills in results on an already-persisted assistant message.
func (s *SQLiteStore) UpdateMessage(sessionID string, msg chat.Message) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	res, err := s.db.Exec(
		`UPDATE messages SET content = ?, thinking = ?, tool_calls = ? WHERE session_id = ? AND id = ?`,
		msg.Content, msg.Thinking, toolCalls, sessionID, msg.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertMessage(tx *sql.Tx, sessionID string, msg chat.Message, seq int) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO messages (id, session_id, role, content, thinking, tool_name, tool_calls, created_at_ns, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Content, msg.Thinking, msg.ToolName,
		toolCalls, msg.Timestamp.UnixNano(), seq,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LoadSession returns a session with its messages in insertion order.
func (s *SQLiteStore) LoadSession(id string) (*chat.Session, error) {
	sess := &chat.Session{ID: id}
	var mode string
	var createdNs, updatedNs int64
	err := s.db.QueryRow(
		`SELECT name, context_mode, context_limit, model, created_at_ns, updated_at_ns
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.Name, &mode, &sess.ContextLimit, &sess.Model, &createdNs, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ContextMode = chat.ContextMode(mode)
	sess.CreatedAt = time.Unix(0, createdNs)
	sess.UpdatedAt = time.Unix(0, updatedNs)

	rows, err := s.db.Query(
		`SELECT id, role, content, thinking, tool_name, tool_calls, created_at_ns
		 FROM messages WHERE session_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg chat.Message
		var role string
		var thinking, toolName, toolCalls sql.NullString
		var createdNs int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &thinking, &toolName, &toolCalls, &createdNs); err != nil {
			return nil, err
		}
		msg.Role = chat.Role(role)
		msg.Thinking = thinking.String
		msg.ToolName = toolName.String
		msg.Timestamp = time.Unix(0, createdNs)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, rows.Err()
}

// ListSessions returns summaries of the most recently updated sessions.
func (s *SQLiteStore) ListSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT s.id, s.name, s.context_mode, s.context_limit, s.model, s.created_at_ns, s.updated_at_ns,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at_ns DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var mode string
		var createdNs, updatedNs int64
		if err := rows.Scan(&sum.Session.ID, &sum.Session.Name, &mode, &sum.Session.ContextLimit,
			&sum.Session.Model, &createdNs, &updatedNs, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.Session.ContextMode = chat.ContextMode(mode)
		sum.Session.CreatedAt = time.Unix(0, createdNs)
		sum.Session.UpdatedAt = time.Unix(0, updatedNs)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/policyradar/policyradar/internal/provider"
)

type SQLiteHistory struct {
	db *sql.DB
}

func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &SQLiteHistory{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *SQLiteHistory) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			last_response_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			payload TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`,
	}

	for _, query := range queries {
		if _, err := h.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// UpsertSession creates the session or refreshes its mutable fields.
func (h *SQLiteHistory) UpsertSession(session *Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	query := `INSERT INTO sessions (id, title, model, last_response_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE sessions.title END,
			model = excluded.model,
			last_response_id = excluded.last_response_id,
			updated_at = excluded.updated_at`
	_, err := h.db.Exec(query,
		session.ID, session.Title, session.Model, session.LastResponseID,
		session.CreatedAt, session.UpdatedAt)
	return err
}

func (h *SQLiteHistory) GetSession(id string) (*Session, error) {
	query := `SELECT id, title, model, last_response_id, created_at, updated_at FROM sessions WHERE id = ?`
	row := h.db.QueryRow(query, id)

	var s Session
	if err := row.Scan(&s.ID, &s.Title, &s.Model, &s.LastResponseID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, err
	}
	return &s, nil
}

func (h *SQLiteHistory) ListSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, title, model, last_response_id, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ?`
	rows, err := h.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.Model, &s.LastResponseID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DeleteSession removes the session row and its messages. Deleting an
// unknown session is not an error.
func (h *SQLiteHistory) DeleteSession(id string) error {
	if _, err := h.db.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := h.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (h *SQLiteHistory) AppendMessages(sessionID string, messages []provider.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (session_id, created_at, payload) VALUES (?, ?, ?)`,
			sessionID, now, string(payload),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Messages returns the session's messages in insertion order.
func (h *SQLiteHistory) Messages(sessionID string) ([]provider.Message, error) {
	rows, err := h.db.Query(
		`SELECT payload FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []provider.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg provider.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

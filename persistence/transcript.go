package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/mcphub/orchestrator"
)

// Store persists session transcripts in SQLite. It satisfies
// orchestrator.TranscriptSink.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
`

// Open creates or opens a transcript database at path. Foreign keys are
// enabled through the DSN so every pooled connection enforces them, not
// just the one a session-level PRAGMA would have touched.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendTurn records one turn under its session, creating the session row
// on first use.
func (s *Store) AppendTurn(sessionID string, t orchestrator.Turn) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("persistence: encode turn: %w", err)
	}
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)",
		sessionID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("persistence: upsert session: %w", err)
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.Exec(
		"INSERT INTO turns (session_id, kind, payload, created_at) VALUES (?, ?, ?, ?)",
		sessionID, string(t.Kind), string(payload), at.UTC(),
	); err != nil {
		return fmt.Errorf("persistence: insert turn: %w", err)
	}
	return nil
}

// Turns replays a session's transcript in append order.
func (s *Store) Turns(sessionID string) ([]orchestrator.Turn, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM turns WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: query turns: %w", err)
	}
	defer rows.Close()
	var out []orchestrator.Turn
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t orchestrator.Turn
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("persistence: decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SessionInfo is one stored session with its size.
type SessionInfo struct {
	ID        string
	StartedAt time.Time
	Turns     int
}

// Sessions lists stored sessions, newest first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.started_at, COUNT(t.id)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("persistence: query sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.StartedAt, &info.Turns); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a session and its turns.
func (s *Store) Delete(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("persistence: delete session: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

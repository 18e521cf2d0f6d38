package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStorageUnavailable wraps any low-level failure on the write path.
// Callers treat it as fatal for the affected session until the store
// recovers; messages are never silently dropped.
var ErrStorageUnavailable = errors.New("storage unavailable")

type Message struct {
	ID         int64
	MsgID      string
	SessionID  string
	SenderID   string
	SenderName string
	Text       string
	Kind       string
	RawPayload string
	Timestamp  time.Time
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			raw_payload TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
		`CREATE TABLE IF NOT EXISTS whitelist (
			session_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'direct',
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			fingerprint TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary_hash TEXT NOT NULL DEFAULT '',
			note_file TEXT NOT NULL DEFAULT '',
			heading_path TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS deferred_scans (
			message_id INTEGER PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendMessage(m Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO messages (msg_id, session_id, sender_id, sender_name, text, kind, raw_payload, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.MsgID, m.SessionID, m.SenderID, m.SenderName, m.Text, kindOrText(m.Kind), m.RawPayload, m.Timestamp.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: append message: %v", ErrStorageUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: append message id: %v", ErrStorageUnavailable, err)
	}
	return id, nil
}

// QueryContext returns the session's messages with timestamp in
// [center-window, center+window], ascending, ties broken by insertion
// order. The result is a point-in-time snapshot (single SELECT).
func (s *Store) QueryContext(sessionID string, center time.Time, window time.Duration) ([]Message, error) {
	lo := center.Add(-window).Unix()
	hi := center.Add(window).Unix()

	rows, err := s.db.Query(`
		SELECT id, msg_id, session_id, sender_id, sender_name, text, kind, raw_payload, ts
		FROM messages
		WHERE session_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, id ASC
	`, sessionID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) GetMessage(id int64) (*Message, error) {
	row := s.db.QueryRow(`
		SELECT id, msg_id, session_id, sender_id, sender_name, text, kind, raw_payload, ts
		FROM messages WHERE id = ?
	`, id)
	var m Message
	var ts int64
	err := row.Scan(&m.ID, &m.MsgID, &m.SessionID, &m.SenderID, &m.SenderName, &m.Text, &m.Kind, &m.RawPayload, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Timestamp = time.Unix(ts, 0)
	return &m, nil
}

// MessagesAfter pages through a session's history in insertion order,
// restricted to messages no older than oldest. Used by backfill.
func (s *Store) MessagesAfter(sessionID string, afterID int64, oldest time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, msg_id, session_id, sender_id, sender_name, text, kind, raw_payload, ts
		FROM messages
		WHERE session_id = ? AND id > ? AND ts >= ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, sessionID, afterID, oldest.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history page: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SweepRetention deletes messages older than maxAge and returns the
// number removed. Idempotent; WAL mode keeps it safe alongside appends.
func (s *Store) SweepRetention(maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.Exec(`DELETE FROM messages WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep retention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep retention count: %w", err)
	}
	return n, nil
}

func (s *Store) MessageCount() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM messages`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	result := make([]Message, 0)
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.MsgID, &m.SessionID, &m.SenderID, &m.SenderName, &m.Text, &m.Kind, &m.RawPayload, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func kindOrText(kind string) string {
	if strings.TrimSpace(kind) == "" {
		return "text"
	}
	return kind
}

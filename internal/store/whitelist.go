package store

import (
	"fmt"
	"strings"
	"time"
)

type WhitelistEntry struct {
	SessionID   string    `json:"sessionId"`
	DisplayName string    `json:"displayName"`
	Kind        string    `json:"kind"`
	AddedAt     time.Time `json:"addedAt"`
}

func (s *Store) AddWhitelist(entry WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := strings.TrimSpace(entry.Kind)
	if kind == "" {
		kind = "direct"
	}
	addedAt := entry.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO whitelist (session_id, display_name, kind, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET display_name = excluded.display_name, kind = excluded.kind
	`, entry.SessionID, strings.TrimSpace(entry.DisplayName), kind, addedAt.Unix())
	if err != nil {
		return fmt.Errorf("add whitelist: %w", err)
	}
	return nil
}

func (s *Store) RemoveWhitelist(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM whitelist WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("remove whitelist: %w", err)
	}
	return nil
}

func (s *Store) IsWhitelisted(sessionID string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM whitelist WHERE session_id = ?`, sessionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListWhitelist() ([]WhitelistEntry, error) {
	rows, err := s.db.Query(`
		SELECT session_id, display_name, kind, added_at
		FROM whitelist
		ORDER BY added_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	result := make([]WhitelistEntry, 0)
	for rows.Next() {
		var e WhitelistEntry
		var addedAt int64
		if err := rows.Scan(&e.SessionID, &e.DisplayName, &e.Kind, &addedAt); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		e.AddedAt = time.Unix(addedAt, 0)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return result, nil
}

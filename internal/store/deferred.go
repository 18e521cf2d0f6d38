package store

import "fmt"

// DeferScan parks a message id for later extraction when the session's
// work queue is full. Inserting the same id twice is a no-op.
func (s *Store) DeferScan(messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR IGNORE INTO deferred_scans (message_id) VALUES (?)`, messageID)
	if err != nil {
		return fmt.Errorf("defer scan: %w", err)
	}
	return nil
}

// TakeDeferredScans removes and returns up to limit parked message ids
// in insertion order. The delete happens in the same transaction as the
// read so a crash never loses or double-delivers a batch boundary.
func (s *Store) TakeDeferredScans(limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin take deferred: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT message_id FROM deferred_scans ORDER BY message_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deferred: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deferred: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deferred: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM deferred_scans WHERE message_id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete deferred: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit take deferred: %w", err)
	}
	return ids, nil
}

func (s *Store) DeferredScanCount() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM deferred_scans`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("deferred scan count: %w", err)
	}
	return n, nil
}

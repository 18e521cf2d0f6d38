package store

import (
	"database/sql"
	"fmt"
)

type FingerprintRecord struct {
	Fingerprint string
	URL         string
	Title       string
	SummaryHash string
	NoteFile    string
	HeadingPath string
	CreatedAt   string
	UpdatedAt   string
}

func (s *Store) LookupFingerprint(fingerprint string) (*FingerprintRecord, error) {
	row := s.db.QueryRow(`
		SELECT fingerprint, url, title, summary_hash, note_file, heading_path, created_at, updated_at
		FROM fingerprints WHERE fingerprint = ?
	`, fingerprint)
	var r FingerprintRecord
	err := row.Scan(&r.Fingerprint, &r.URL, &r.Title, &r.SummaryHash, &r.NoteFile, &r.HeadingPath, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return &r, nil
}

func (s *Store) UpsertFingerprint(rec FingerprintRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO fingerprints (fingerprint, url, title, summary_hash, note_file, heading_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			summary_hash = excluded.summary_hash,
			note_file = excluded.note_file,
			heading_path = excluded.heading_path,
			updated_at = datetime('now')
	`, rec.Fingerprint, rec.URL, rec.Title, rec.SummaryHash, rec.NoteFile, rec.HeadingPath)
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

func (s *Store) FingerprintCount() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM fingerprints`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("fingerprint count: %w", err)
	}
	return n, nil
}

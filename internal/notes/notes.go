// Package notes models a note destination as a heading hierarchy over
// a backend-native document, and applies insertion decisions to it
// transactionally. The backend's own text is the single source of
// truth: the tree is re-parsed on every cycle, never cached.
package notes

import (
	"context"
	"errors"
)

var (
	// ErrBackendConflict reports that the document changed between read
	// and write; the caller re-fetches and retries the decision once.
	ErrBackendConflict = errors.New("note backend conflict")
	// ErrStaleDecision reports that a decision's heading path no longer
	// resolves against the fresh tree; the caller re-classifies.
	ErrStaleDecision = errors.New("stale classification decision")
	ErrNotFound      = errors.New("not found")
)

// NoteFile names a curation destination. Description is the selection
// signal given to the classification step.
type NoteFile struct {
	Name        string
	Backend     string // "file" or "document"
	Location    string
	Description string
}

// Line is one backend-native line. Heading is 0 for body text, or the
// heading level (1-based) for heading lines.
type Line struct {
	Text    string
	Heading int
}

// Document is the unified representation both backends expose.
// Revision identifies the exact bytes read; writes are conditional on
// it.
type Document struct {
	Revision string
	Lines    []Line
}

// Backend is the storage contract for a note destination.
type Backend interface {
	Read(ctx context.Context, nf NoteFile) (*Document, error)
	// Write stores doc if the backend still holds ifRevision, and
	// returns ErrBackendConflict otherwise.
	Write(ctx context.Context, nf NoteFile, doc *Document, ifRevision string) error
}

// Entry is the unit that gets filed: the durable trace of one detected
// reference after summarization.
type Entry struct {
	Title     string
	LinkTitle string
	URL       string
	Date      string // "2006.01" display form
	Summary   string
	SessionID string
	IsHistory bool
}

type Action string

const (
	ActionReuseExisting Action = "reuse_existing"
	ActionCreateChild   Action = "create_child"
	ActionCreateRoot    Action = "create_root"
)

// Decision says where an entry goes. Path is the full heading path the
// entry lands under; for create_child and create_root the last element
// is the new heading's title (NewTitle repeats it for clarity).
type Decision struct {
	NoteFile string
	Path     []string
	Action   Action
	NewTitle string
}

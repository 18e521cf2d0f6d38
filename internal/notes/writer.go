package notes

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Writer applies insertion decisions to note files. One mutex per
// NoteFile serializes the read-decide-write sequence; unrelated files
// proceed independently. Mutation is scoped to the affected line range,
// so concurrent manual edits elsewhere in the file survive untouched.
type Writer struct {
	backends map[string]Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWriter(backends map[string]Backend) *Writer {
	return &Writer{
		backends: backends,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Lock serializes mutation of one note file. Held by the caller across
// the snapshot → decide → insert sequence so the tree a decision was
// made against cannot change underneath it.
func (w *Writer) Lock(noteFile string) func() {
	w.mu.Lock()
	m, ok := w.locks[noteFile]
	if !ok {
		m = &sync.Mutex{}
		w.locks[noteFile] = m
	}
	w.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (w *Writer) backendFor(nf NoteFile) (Backend, error) {
	b, ok := w.backends[nf.Backend]
	if !ok {
		return nil, fmt.Errorf("no backend %q for note file %s", nf.Backend, nf.Name)
	}
	return b, nil
}

// Snapshot reads the note and parses its current heading tree.
func (w *Writer) Snapshot(ctx context.Context, nf NoteFile) (*Document, *Tree, error) {
	b, err := w.backendFor(nf)
	if err != nil {
		return nil, nil, err
	}
	doc, err := b.Read(ctx, nf)
	if err != nil {
		return nil, nil, err
	}
	return doc, ParseTree(doc), nil
}

// Insert applies a decision. The decision's path is validated against a
// fresh read; a path that no longer fits reports ErrStaleDecision and a
// concurrent external write reports ErrBackendConflict.
func (w *Writer) Insert(ctx context.Context, nf NoteFile, dec Decision, entry Entry) error {
	b, err := w.backendFor(nf)
	if err != nil {
		return err
	}
	doc, err := b.Read(ctx, nf)
	if err != nil {
		return err
	}
	tree := ParseTree(doc)

	var insertAt int
	var block []Line

	switch dec.Action {
	case ActionReuseExisting:
		node := tree.Resolve(dec.Path)
		if node == nil {
			return fmt.Errorf("path %v: %w", dec.Path, ErrStaleDecision)
		}
		insertAt = tree.directContentEnd(node)
		block = renderEntry(entry)
	case ActionCreateChild:
		if len(dec.Path) < 2 {
			return fmt.Errorf("create_child path %v too short: %w", dec.Path, ErrStaleDecision)
		}
		parent := tree.Resolve(dec.Path[:len(dec.Path)-1])
		if parent == nil {
			return fmt.Errorf("parent of %v: %w", dec.Path, ErrStaleDecision)
		}
		level := parent.Level + 1
		if level > 6 {
			level = 6
		}
		insertAt = tree.subtreeEnd(parent)
		block = append(headingBlock(dec.Path[len(dec.Path)-1], level), renderEntry(entry)...)
	case ActionCreateRoot:
		if len(dec.Path) != 1 {
			return fmt.Errorf("create_root path %v: %w", dec.Path, ErrStaleDecision)
		}
		insertAt = len(doc.Lines)
		block = append(headingBlock(dec.Path[0], 1), renderEntry(entry)...)
	default:
		return fmt.Errorf("unknown action %q", dec.Action)
	}

	updated := splice(doc, insertAt, block)
	if err := b.Write(ctx, nf, updated, doc.Revision); err != nil {
		return err
	}
	return nil
}

// Update replaces a previously filed entry block in place, located by
// its reference marker. Used when the dedup check reports the same
// identity with a materially changed summary.
func (w *Writer) Update(ctx context.Context, nf NoteFile, entry Entry) error {
	b, err := w.backendFor(nf)
	if err != nil {
		return err
	}
	doc, err := b.Read(ctx, nf)
	if err != nil {
		return err
	}

	marker := refMarker(entry.URL)
	start := -1
	for i, line := range doc.Lines {
		if strings.TrimSpace(line.Text) == marker {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("entry for %s: %w", entry.URL, ErrNotFound)
	}

	end := start + 1
	for end < len(doc.Lines) {
		l := doc.Lines[end]
		if l.Heading > 0 || strings.TrimSpace(l.Text) == "" {
			break
		}
		end++
	}

	replacement := renderEntryBare(entry)
	lines := make([]Line, 0, len(doc.Lines)-(end-start)+len(replacement))
	lines = append(lines, doc.Lines[:start]...)
	lines = append(lines, replacement...)
	lines = append(lines, doc.Lines[end:]...)

	updated := &Document{Lines: lines}
	if err := b.Write(ctx, nf, updated, doc.Revision); err != nil {
		return err
	}
	return nil
}

// splice inserts block at index, adding a separating blank line when
// the preceding line has content.
func splice(doc *Document, at int, block []Line) *Document {
	if at > 0 && at <= len(doc.Lines) && strings.TrimSpace(doc.Lines[at-1].Text) != "" {
		block = append([]Line{{}}, block...)
	}
	lines := make([]Line, 0, len(doc.Lines)+len(block))
	lines = append(lines, doc.Lines[:at]...)
	lines = append(lines, block...)
	lines = append(lines, doc.Lines[at:]...)
	return &Document{Lines: lines}
}

func headingBlock(title string, level int) []Line {
	return []Line{{
		Text:    strings.Repeat("#", level) + " " + strings.TrimSpace(title),
		Heading: level,
	}}
}

func renderEntry(entry Entry) []Line {
	return append(renderEntryBare(entry), Line{})
}

func renderEntryBare(entry Entry) []Line {
	linkTitle := strings.TrimSpace(entry.LinkTitle)
	if linkTitle == "" {
		linkTitle = strings.TrimSpace(entry.Title)
	}
	lines := []Line{
		{Text: refMarker(entry.URL)},
		{Text: fmt.Sprintf("**%s %s**", entry.Date, strings.TrimSpace(entry.Title))},
		{Text: fmt.Sprintf("[%s](%s)", linkTitle, entry.URL)},
	}
	if summary := oneParagraph(entry.Summary); summary != "" {
		lines = append(lines, Line{Text: summary})
	}
	return lines
}

func refMarker(url string) string {
	return "<!-- ref: " + url + " -->"
}

func oneParagraph(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package classify decides where a new content entry belongs inside
// the live heading hierarchies: reuse an existing heading, create a
// child, or open a new top-level section. The nondeterministic part is
// isolated behind the Reasoner interface so the surrounding logic is
// testable with a deterministic stand-in.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lwen/dailynote/internal/llm"
	"github.com/lwen/dailynote/internal/notes"
)

// ErrClassificationUnavailable reports that the reasoning capability
// failed or returned a decision that does not fit the current tree.
// The caller defers the entry instead of guessing a placement.
var ErrClassificationUnavailable = errors.New("classification unavailable")

const (
	StrategyConservative = "conservative"
	StrategyBalanced     = "balanced"
	StrategyLiberal      = "liberal"
)

// Reasoner is the slice of the reasoning capability the engine needs.
// *llm* clients satisfy it; tests provide fixed answers.
type Reasoner interface {
	SelectNoteFile(ctx context.Context, title, summary string, files []llm.FileOption) (string, error)
	Place(ctx context.Context, title, summary string, paths [][]string, policy string) (*llm.Placement, error)
}

type Engine struct {
	reasoner Reasoner
	strategy string
}

func NewEngine(reasoner Reasoner, strategy string) *Engine {
	switch strategy {
	case StrategyConservative, StrategyBalanced, StrategyLiberal:
	default:
		strategy = StrategyBalanced
	}
	return &Engine{reasoner: reasoner, strategy: strategy}
}

// Decide picks a note file by description, then a heading path within
// it. Every returned decision resolves against the tree snapshot it
// was made from; the writer re-validates against a fresh read.
func (e *Engine) Decide(ctx context.Context, entry notes.Entry, files []notes.NoteFile, trees map[string]*notes.Tree) (*notes.Decision, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no note files configured: %w", ErrClassificationUnavailable)
	}

	nf, err := e.selectFile(ctx, entry, files)
	if err != nil {
		return nil, err
	}

	tree, ok := trees[nf.Name]
	if !ok {
		return nil, fmt.Errorf("no tree snapshot for %s: %w", nf.Name, ErrClassificationUnavailable)
	}

	paths := tree.Paths()
	if len(paths) == 0 {
		// Empty note: the first entry always opens a new section.
		title := rootTitleFor(entry)
		return &notes.Decision{
			NoteFile: nf.Name,
			Path:     []string{title},
			Action:   notes.ActionCreateRoot,
			NewTitle: title,
		}, nil
	}

	placement, err := e.reasoner.Place(ctx, entry.Title, entry.Summary, paths, policyWording(e.strategy))
	if err != nil {
		return nil, fmt.Errorf("place entry: %w: %w", ErrClassificationUnavailable, err)
	}
	return e.validate(nf.Name, tree, placement)
}

func (e *Engine) selectFile(ctx context.Context, entry notes.Entry, files []notes.NoteFile) (notes.NoteFile, error) {
	if len(files) == 1 {
		return files[0], nil
	}

	options := make([]llm.FileOption, len(files))
	for i, f := range files {
		options[i] = llm.FileOption{Name: f.Name, Description: f.Description}
	}
	name, err := e.reasoner.SelectNoteFile(ctx, entry.Title, entry.Summary, options)
	if err != nil {
		return notes.NoteFile{}, fmt.Errorf("select note file: %w: %w", ErrClassificationUnavailable, err)
	}
	for _, f := range files {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	return notes.NoteFile{}, fmt.Errorf("reasoner chose unknown file %q: %w", name, ErrClassificationUnavailable)
}

func (e *Engine) validate(noteFile string, tree *notes.Tree, p *llm.Placement) (*notes.Decision, error) {
	switch notes.Action(p.Action) {
	case notes.ActionReuseExisting:
		if tree.Resolve(p.Path) == nil {
			return nil, fmt.Errorf("reuse path %v does not exist: %w", p.Path, ErrClassificationUnavailable)
		}
		return &notes.Decision{NoteFile: noteFile, Path: p.Path, Action: notes.ActionReuseExisting}, nil

	case notes.ActionCreateChild:
		title := strings.TrimSpace(p.NewTitle)
		if title == "" {
			return nil, fmt.Errorf("create_child without title: %w", ErrClassificationUnavailable)
		}
		if tree.Resolve(p.Path) == nil {
			return nil, fmt.Errorf("create_child parent %v does not exist: %w", p.Path, ErrClassificationUnavailable)
		}
		full := append(append([]string{}, p.Path...), title)
		if tree.Resolve(full) != nil {
			// The proposed child already exists; reuse it instead of
			// growing a twin.
			return &notes.Decision{NoteFile: noteFile, Path: full, Action: notes.ActionReuseExisting}, nil
		}
		return &notes.Decision{NoteFile: noteFile, Path: full, Action: notes.ActionCreateChild, NewTitle: title}, nil

	case notes.ActionCreateRoot:
		title := strings.TrimSpace(p.NewTitle)
		if title == "" {
			return nil, fmt.Errorf("create_root without title: %w", ErrClassificationUnavailable)
		}
		if tree.Resolve([]string{title}) != nil {
			return &notes.Decision{NoteFile: noteFile, Path: []string{title}, Action: notes.ActionReuseExisting}, nil
		}
		return &notes.Decision{NoteFile: noteFile, Path: []string{title}, Action: notes.ActionCreateRoot, NewTitle: title}, nil
	}
	return nil, fmt.Errorf("unknown action %q: %w", p.Action, ErrClassificationUnavailable)
}

// policyWording translates the configured strategy into the placement
// policy given to the reasoner; thresholds live here, not in code.
func policyWording(strategy string) string {
	switch strategy {
	case StrategyConservative:
		return "Require a close topical match before reusing an existing heading. When the fit is uncertain, prefer creating a new, precisely named heading over filing the entry somewhere broad."
	case StrategyLiberal:
		return "Favor consolidation. Reuse the closest existing heading whenever the entry is plausibly related; create new headings only for clearly unrelated topics."
	default:
		return "Reuse the deepest existing heading whose topic covers the entry. Create a new heading only when no existing heading is a reasonable fit."
	}
}

func rootTitleFor(entry notes.Entry) string {
	title := strings.TrimSpace(entry.Title)
	if runes := []rune(title); len(runes) > 48 {
		title = strings.TrimSpace(string(runes[:48]))
	}
	if title == "" {
		title = "Inbox"
	}
	return title
}

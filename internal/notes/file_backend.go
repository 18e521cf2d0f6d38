package notes

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileBackend stores notes as markdown files on disk. Headings are "#"
// prefixed lines outside YAML front matter and fenced code blocks;
// everything else round-trips byte for byte.
type FileBackend struct{}

func NewFileBackend() *FileBackend {
	return &FileBackend{}
}

func (f *FileBackend) Read(ctx context.Context, nf NoteFile) (*Document, error) {
	data, err := os.ReadFile(nf.Location)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file is an empty note; the first write creates it.
			return &Document{Revision: contentRevision(nil)}, nil
		}
		return nil, fmt.Errorf("read note file: %w", err)
	}
	return parseMarkdown(data), nil
}

func (f *FileBackend) Write(ctx context.Context, nf NoteFile, doc *Document, ifRevision string) error {
	current, err := f.Read(ctx, nf)
	if err != nil {
		return err
	}
	if current.Revision != ifRevision {
		return fmt.Errorf("write %s: %w", nf.Name, ErrBackendConflict)
	}

	if err := os.MkdirAll(filepath.Dir(nf.Location), 0755); err != nil {
		return fmt.Errorf("create note dir: %w", err)
	}
	return atomicWriteFile(nf.Location, renderMarkdown(doc))
}

// atomicWriteFile writes via a temp file in the same directory and
// renames it over the target, so a crash mid-write never leaves the
// note truncated.
func atomicWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp note file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write note file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close note file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod note file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace note file: %w", err)
	}
	return nil
}

func parseMarkdown(data []byte) *Document {
	raw := strings.Split(string(data), "\n")
	doc := &Document{Revision: contentRevision(data)}
	doc.Lines = make([]Line, len(raw))

	fmEnd := frontMatterEnd(raw)
	inFence := false

	for i, text := range raw {
		doc.Lines[i] = Line{Text: text}
		if i < fmEnd {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if level := headingLevel(text); level > 0 {
			doc.Lines[i].Heading = level
		}
	}
	return doc
}

// frontMatterEnd returns the index just past a leading YAML front
// matter block, or 0 when there is none. The block must actually parse
// as YAML; a stray "---" divider does not hide headings below it.
func frontMatterEnd(lines []string) int {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			block := strings.Join(lines[1:i], "\n")
			var meta map[string]any
			if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

func headingLevel(text string) int {
	level := 0
	for level < len(text) && text[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if level == len(text) || text[level] != ' ' {
		return 0
	}
	return level
}

func renderMarkdown(doc *Document) []byte {
	parts := make([]string, len(doc.Lines))
	for i, l := range doc.Lines {
		parts[i] = l.Text
	}
	return []byte(strings.Join(parts, "\n"))
}

func contentRevision(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

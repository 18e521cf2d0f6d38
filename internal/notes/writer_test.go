package notes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testWriter(t *testing.T) (*Writer, NoteFile) {
	t.Helper()
	nf := NoteFile{
		Name:     "ai",
		Backend:  "file",
		Location: filepath.Join(t.TempDir(), "ai.md"),
	}
	w := NewWriter(map[string]Backend{"file": NewFileBackend()})
	return w, nf
}

func writeNote(t *testing.T, nf NoteFile, content string) {
	t.Helper()
	if err := os.WriteFile(nf.Location, []byte(content), 0644); err != nil {
		t.Fatalf("write note: %v", err)
	}
}

func readNote(t *testing.T, nf NoteFile) string {
	t.Helper()
	data, err := os.ReadFile(nf.Location)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	return string(data)
}

var testEntry = Entry{
	Title:     "A New LLM Release",
	LinkTitle: "announcement",
	URL:       "https://example.com/llm",
	Date:      "2026.08",
	Summary:   "Vendor shipped a new model.",
}

func TestInsertReuseExisting(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\n\n## LLMs\nold entry\n\n## Agents\nagent entry\n")

	dec := Decision{NoteFile: "ai", Path: []string{"AI", "LLMs"}, Action: ActionReuseExisting}
	if err := w.Insert(context.Background(), nf, dec, testEntry); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	got := readNote(t, nf)
	if !strings.Contains(got, "**2026.08 A New LLM Release**") {
		t.Fatalf("entry not written:\n%s", got)
	}
	if !strings.Contains(got, "[announcement](https://example.com/llm)") {
		t.Fatalf("link line missing:\n%s", got)
	}
	// New entry lands inside the LLMs section, before Agents.
	if strings.Index(got, "A New LLM Release") > strings.Index(got, "## Agents") {
		t.Fatalf("entry placed after the next section:\n%s", got)
	}
	// Untouched regions preserved byte for byte.
	if !strings.Contains(got, "## Agents\nagent entry\n") {
		t.Fatalf("unrelated section rewritten:\n%s", got)
	}
}

func TestInsertCreateChild(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\n\n## LLMs\nentry\n")

	dec := Decision{
		NoteFile: "ai",
		Path:     []string{"AI", "Robot Learning"},
		Action:   ActionCreateChild,
		NewTitle: "Robot Learning",
	}
	if err := w.Insert(context.Background(), nf, dec, testEntry); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	doc, tree, err := w.Snapshot(context.Background(), nf)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	node := tree.Resolve([]string{"AI", "Robot Learning"})
	if node == nil {
		t.Fatalf("new child heading missing:\n%s", string(renderMarkdown(doc)))
	}
	if node.Level != 2 {
		t.Fatalf("new heading level = %d, want 2", node.Level)
	}
	// New child goes at the end of the parent's children.
	if node.Line < tree.Resolve([]string{"AI", "LLMs"}).Line {
		t.Fatal("new child should follow existing children")
	}
}

func TestInsertCreateRoot(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\nentry\n")

	dec := Decision{NoteFile: "ai", Path: []string{"Robotics"}, Action: ActionCreateRoot, NewTitle: "Robotics"}
	if err := w.Insert(context.Background(), nf, dec, testEntry); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	_, tree, err := w.Snapshot(context.Background(), nf)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if tree.Resolve([]string{"Robotics"}) == nil {
		t.Fatal("new root heading missing")
	}
}

func TestInsertCreateRootIntoMissingFile(t *testing.T) {
	w, nf := testWriter(t)

	dec := Decision{NoteFile: "ai", Path: []string{"AI"}, Action: ActionCreateRoot, NewTitle: "AI"}
	if err := w.Insert(context.Background(), nf, dec, testEntry); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	got := readNote(t, nf)
	if !strings.HasPrefix(got, "# AI") {
		t.Fatalf("file should start with the new heading:\n%s", got)
	}
}

func TestInsertStaleDecision(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\n")

	dec := Decision{NoteFile: "ai", Path: []string{"AI", "Gone"}, Action: ActionReuseExisting}
	err := w.Insert(context.Background(), nf, dec, testEntry)
	if !errors.Is(err, ErrStaleDecision) {
		t.Fatalf("error = %v, want ErrStaleDecision", err)
	}

	dec = Decision{NoteFile: "ai", Path: []string{"Gone", "Child"}, Action: ActionCreateChild, NewTitle: "Child"}
	err = w.Insert(context.Background(), nf, dec, testEntry)
	if !errors.Is(err, ErrStaleDecision) {
		t.Fatalf("error = %v, want ErrStaleDecision", err)
	}
}

func TestUpdateReplacesInPlace(t *testing.T) {
	w, nf := testWriter(t)

	dec := Decision{NoteFile: "ai", Path: []string{"AI"}, Action: ActionCreateRoot, NewTitle: "AI"}
	if err := w.Insert(context.Background(), nf, dec, testEntry); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	updated := testEntry
	updated.Summary = "A fuller second summary."
	if err := w.Update(context.Background(), nf, updated); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got := readNote(t, nf)
	if !strings.Contains(got, "A fuller second summary.") {
		t.Fatalf("updated summary missing:\n%s", got)
	}
	if strings.Contains(got, "Vendor shipped a new model.") {
		t.Fatalf("old summary still present:\n%s", got)
	}
	if strings.Count(got, "**2026.08 A New LLM Release**") != 1 {
		t.Fatalf("entry duplicated by update:\n%s", got)
	}
}

func TestUpdateMissingEntry(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\n")

	err := w.Update(context.Background(), nf, testEntry)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFileBackendConflict(t *testing.T) {
	_, nf := testWriter(t)
	b := NewFileBackend()
	writeNote(t, nf, "# AI\n")

	doc, err := b.Read(context.Background(), nf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	// External edit between read and write.
	writeNote(t, nf, "# AI\nmanual edit\n")

	err = b.Write(context.Background(), nf, doc, doc.Revision)
	if !errors.Is(err, ErrBackendConflict) {
		t.Fatalf("error = %v, want ErrBackendConflict", err)
	}
}

func TestFileBackendWriteReplacesAtomically(t *testing.T) {
	_, nf := testWriter(t)
	b := NewFileBackend()
	writeNote(t, nf, "# AI\n")

	doc, err := b.Read(context.Background(), nf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	doc.Lines = append(doc.Lines, Line{Text: "body"})
	if err := b.Write(context.Background(), nf, doc, doc.Revision); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	data, err := os.ReadFile(nf.Location)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !strings.Contains(string(data), "body") {
		t.Fatalf("content = %q", data)
	}

	// The temp file used for the rename must not be left behind.
	entries, err := os.ReadDir(filepath.Dir(nf.Location))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("stray temp file: %s", e.Name())
		}
	}
}

func TestConcurrentInsertsSameFile(t *testing.T) {
	w, nf := testWriter(t)
	writeNote(t, nf, "# AI\n## LLMs\n")

	done := make(chan error, 4)
	for n := 0; n < 4; n++ {
		entry := testEntry
		entry.URL = entry.URL + "/" + strings.Repeat("x", n+1)
		entry.Title = entry.Title + " " + strings.Repeat("x", n+1)
		go func(e Entry) {
			unlock := w.Lock(nf.Name)
			defer unlock()
			dec := Decision{NoteFile: "ai", Path: []string{"AI", "LLMs"}, Action: ActionReuseExisting}
			done <- w.Insert(context.Background(), nf, dec, e)
		}(entry)
	}
	for n := 0; n < 4; n++ {
		if err := <-done; err != nil {
			t.Fatalf("Insert error: %v", err)
		}
	}

	got := readNote(t, nf)
	if strings.Count(got, "<!-- ref: ") != 4 {
		t.Fatalf("expected 4 entries after serialized concurrent inserts:\n%s", got)
	}
}

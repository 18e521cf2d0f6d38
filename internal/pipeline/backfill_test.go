package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/llm"
	"github.com/lwen/dailynote/internal/store"
)

func newBackfillRig(t *testing.T) (*testRig, *HistoryProcessor) {
	t.Helper()
	r := newTestRig(t)
	h := NewHistoryProcessor(r.store, r.pipeline, config.BackfillConfig{
		BatchSize:  2,
		BatchDelay: "1ms",
		MaxAgeDays: 30,
	})
	return r, h
}

func seedHistory(t *testing.T, st *store.Store, session string, texts []string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, text := range texts {
		_, err := st.AppendMessage(store.Message{
			SessionID: session,
			SenderID:  "u1",
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
}

func TestBackfillFilesHistoryLinks(t *testing.T) {
	r, h := newBackfillRig(t)
	r.allow(t, "telegram:42")

	seedHistory(t, r.store, "telegram:42", []string{
		"hello",
		"see https://example.com/a",
		"chatter",
		"and https://example.com/b",
		"more chatter",
	})

	h.Start(context.Background(), "telegram:42")
	h.Wait()

	content := r.noteContent(t)
	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		if !strings.Contains(content, "<!-- ref: "+url+" -->") {
			t.Errorf("history link %s not filed:\n%s", url, content)
		}
	}
}

func TestBackfillIdempotent(t *testing.T) {
	r, h := newBackfillRig(t)
	r.allow(t, "telegram:42")
	seedHistory(t, r.store, "telegram:42", []string{
		"see https://example.com/a",
		"again https://example.com/a",
	})

	for i := 0; i < 2; i++ {
		h.Start(context.Background(), "telegram:42")
		h.Wait()
	}

	if n := strings.Count(r.noteContent(t), "<!-- ref: "); n != 1 {
		t.Fatalf("entry markers = %d after repeated backfill, want 1\n%s", n, r.noteContent(t))
	}
}

func TestBackfillSkipsNonWhitelisted(t *testing.T) {
	r, h := newBackfillRig(t)
	seedHistory(t, r.store, "telegram:42", []string{"see https://example.com/a"})

	h.run(context.Background(), "telegram:42", "t1")

	if r.noteContent(t) != "" {
		t.Fatal("backfill must not process a non-whitelisted session")
	}
}

func TestBackfillStopsWhenWhitelistRemoved(t *testing.T) {
	r, h := newBackfillRig(t)
	r.allow(t, "telegram:42")

	var texts []string
	for i := 0; i < 6; i++ {
		texts = append(texts, fmt.Sprintf("see https://example.com/p%d", i))
	}
	seedHistory(t, r.store, "telegram:42", texts)

	// Removal lands while the first batch is processing. The batch in
	// flight completes; the run stops at the next boundary instead of
	// finishing the history.
	removed := false
	r.llm.summarizeFn = func(url, titleHint, content string, contextMsgs []string) (*llm.Summary, error) {
		if !removed {
			removed = true
			if err := r.store.RemoveWhitelist("telegram:42"); err != nil {
				t.Fatalf("RemoveWhitelist: %v", err)
			}
		}
		return &llm.Summary{Title: "Entry for " + url, Summary: "S"}, nil
	}

	h.run(context.Background(), "telegram:42", "t1")

	if n := strings.Count(r.noteContent(t), "<!-- ref: "); n != 2 {
		t.Fatalf("entries = %d, want the in-flight batch only\n%s", n, r.noteContent(t))
	}
}

func TestBackfillHonorsMaxAge(t *testing.T) {
	r, h := newBackfillRig(t)
	r.allow(t, "telegram:42")

	old := store.Message{SessionID: "telegram:42", SenderID: "u1",
		Text: "ancient https://example.com/old", Timestamp: time.Now().Add(-90 * 24 * time.Hour)}
	if _, err := r.store.AppendMessage(old); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	seedHistory(t, r.store, "telegram:42", []string{"fresh https://example.com/new"})

	h.run(context.Background(), "telegram:42", "t1")

	content := r.noteContent(t)
	if strings.Contains(content, "example.com/old") {
		t.Fatalf("message older than the history window was processed:\n%s", content)
	}
	if !strings.Contains(content, "example.com/new") {
		t.Fatalf("recent history missing:\n%s", content)
	}
}

func TestAllowBackfillOutlivesRequest(t *testing.T) {
	r, h := newBackfillRig(t)
	seedHistory(t, r.store, "telegram:42", []string{
		"see https://example.com/a",
		"chatter",
		"and https://example.com/b",
	})

	m := NewWhitelistManager(r.store)
	m.SetBackfill(h)

	// Allow arrives over HTTP. The request context dies the moment the
	// handler returns; the backfill it kicked off must keep running.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := m.Allow("telegram:42", "Reading Club", "group"); err != nil {
			t.Errorf("Allow: %v", err)
		}
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	h.Wait()

	content := r.noteContent(t)
	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		if !strings.Contains(content, "<!-- ref: "+url+" -->") {
			t.Errorf("history link %s not filed after request ended:\n%s", url, content)
		}
	}
}

func TestBackfillCancelledBeforeStart(t *testing.T) {
	r, h := newBackfillRig(t)
	r.allow(t, "telegram:42")
	seedHistory(t, r.store, "telegram:42", []string{"see https://example.com/a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.run(ctx, "telegram:42", "t1")

	if r.noteContent(t) != "" {
		t.Fatal("cancelled run must not process anything")
	}
}

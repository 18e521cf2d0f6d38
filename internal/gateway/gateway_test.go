package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Store.DBPath = filepath.Join(dir, "data.db")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Notes.Files = []config.NoteFileConfig{
		{Name: "notes", Backend: "file", Location: filepath.Join(dir, "notes.md"), Description: "everything"},
	}
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{SignalChan: make(chan os.Signal, 1)})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { _ = g.store.Close() })
	return g
}

func TestNewRequiresNoteFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notes.Files = nil
	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Fatal("expected error without note files")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notes.Files[0].Backend = "document" // document service not configured
	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Fatal("expected error for unconfigured document backend")
	}
}

func TestAdminStatus(t *testing.T) {
	g := newTestGateway(t)
	ts := httptest.NewServer(g.adminRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(st.Jobs) != 2 {
		t.Fatalf("jobs = %d, want sweep and drain", len(st.Jobs))
	}
}

func TestAdminWhitelistLifecycle(t *testing.T) {
	g := newTestGateway(t)
	ts := httptest.NewServer(g.adminRouter())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/whitelist", "application/json",
		strings.NewReader(`{"sessionId":"telegram:42","displayName":"Reading Club","kind":"group"}`))
	if err != nil {
		t.Fatalf("POST whitelist: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	ok, err := g.store.IsWhitelisted("telegram:42")
	if err != nil || !ok {
		t.Fatalf("IsWhitelisted = %v, %v", ok, err)
	}

	resp, err = http.Get(ts.URL + "/api/whitelist")
	if err != nil {
		t.Fatalf("GET whitelist: %v", err)
	}
	var entries []store.WhitelistEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(entries) != 1 || entries[0].SessionID != "telegram:42" {
		t.Fatalf("entries = %+v", entries)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/whitelist/telegram:42", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE whitelist: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if ok, _ := g.store.IsWhitelisted("telegram:42"); ok {
		t.Fatal("session should be removed")
	}
}

func TestAdminWhitelistRequiresSession(t *testing.T) {
	g := newTestGateway(t)
	ts := httptest.NewServer(g.adminRouter())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/whitelist", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST whitelist: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminRunJob(t *testing.T) {
	g := newTestGateway(t)
	ts := httptest.NewServer(g.adminRouter())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/jobs/"+sweepJobName+"/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/jobs/ghost/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST run ghost: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown job", resp.StatusCode)
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(testConfig(t), Options{SignalChan: sigCh})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after signal")
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Provider.Model, DefaultModel)
	}
	if cfg.Provider.MaxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", cfg.Provider.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Gateway.Host != DefaultHost {
		t.Errorf("host = %q, want %q", cfg.Gateway.Host, DefaultHost)
	}
	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Gateway.Port, DefaultPort)
	}
	if cfg.Pipeline.Strategy != DefaultStrategy {
		t.Errorf("strategy = %q, want %q", cfg.Pipeline.Strategy, DefaultStrategy)
	}
	if cfg.Pipeline.ContextWindow != DefaultContextWindow {
		t.Errorf("contextWindow = %q, want %q", cfg.Pipeline.ContextWindow, DefaultContextWindow)
	}
	if cfg.Store.RetentionDays != DefaultRetentionDays {
		t.Errorf("retentionDays = %d, want %d", cfg.Store.RetentionDays, DefaultRetentionDays)
	}
	if !cfg.Backfill.Enabled {
		t.Error("backfill should be enabled by default")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("DAILYNOTE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, cfg.Provider.Model)
	}
	if cfg.Store.DBPath == "" {
		t.Error("dbPath should be defaulted")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("DAILYNOTE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DAILYNOTE_STRATEGY", "")

	cfgDir := filepath.Join(tmpDir, ".dailynote")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"provider": map[string]any{
			"apiKey": "sk-test-key",
			"model":  "gpt-4o",
		},
		"pipeline": map[string]any{
			"strategy":      "conservative",
			"contextWindow": "120s",
		},
		"notes": map[string]any{
			"files": []map[string]any{
				{"name": "ai", "backend": "file", "location": "/notes/ai.md", "description": "AI and ML topics"},
			},
		},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test-key" {
		t.Errorf("apiKey = %q, want sk-test-key", cfg.Provider.APIKey)
	}
	if cfg.Pipeline.Strategy != "conservative" {
		t.Errorf("strategy = %q, want conservative", cfg.Pipeline.Strategy)
	}
	if cfg.Pipeline.ContextWindow != "120s" {
		t.Errorf("contextWindow = %q, want 120s", cfg.Pipeline.ContextWindow)
	}
	if len(cfg.Notes.Files) != 1 || cfg.Notes.Files[0].Name != "ai" {
		t.Errorf("notes files = %+v", cfg.Notes.Files)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	t.Setenv("DAILYNOTE_API_KEY", "dn-key")
	t.Setenv("OPENAI_API_KEY", "openai-loses")
	t.Setenv("DAILYNOTE_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("DAILYNOTE_STRATEGY", "liberal")
	t.Setenv("DAILYNOTE_RETENTION_DAYS", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "dn-key" {
		t.Errorf("apiKey = %q, want dn-key", cfg.Provider.APIKey)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram token = %q, want tg-token", cfg.Channels.Telegram.Token)
	}
	if cfg.Pipeline.Strategy != "liberal" {
		t.Errorf("strategy = %q, want liberal", cfg.Pipeline.Strategy)
	}
	if cfg.Store.RetentionDays != 7 {
		t.Errorf("retentionDays = %d, want 7", cfg.Store.RetentionDays)
	}
}

func TestLoadConfig_OpenAIKeyFallback(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	t.Setenv("DAILYNOTE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "openai-key" {
		t.Errorf("apiKey = %q, want openai-key", cfg.Provider.APIKey)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "test-key"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ".dailynote", "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal saved config: %v", err)
	}
	if loaded.Provider.APIKey != "test-key" {
		t.Errorf("saved apiKey = %q, want test-key", loaded.Provider.APIKey)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfgDir := filepath.Join(tmpDir, ".dailynote")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("invalid json"), 0644)

	_, err := LoadConfig()
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

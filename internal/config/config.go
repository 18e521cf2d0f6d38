package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultMaxTokens      = 2048
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18920
	DefaultBufSize        = 100
	DefaultContextWindow  = "60s"
	DefaultQueueSize      = 16
	DefaultMaxRetries     = 3
	DefaultStrategy       = "balanced"
	DefaultRetentionDays  = 90
	DefaultSweepSchedule  = "0 0 4 * * *"  // daily at 04:00
	DefaultDrainSchedule  = "0 */5 * * * *" // every 5 minutes
	DefaultBatchSize      = 20
	DefaultBatchDelay     = "5s"
	DefaultMaxHistoryDays = 30
)

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Provider ProviderConfig `json:"provider"`
	Pipeline PipelineConfig `json:"pipeline"`
	Store    StoreConfig    `json:"store"`
	Notes    NotesConfig    `json:"notes"`
	Backfill BackfillConfig `json:"backfill"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type ProviderConfig struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Webhook   WebhookConfig   `json:"webhook"`
	WebSocket WebSocketConfig `json:"websocket"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	Proxy   string `json:"proxy,omitempty"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Secret  string `json:"secret,omitempty"`
}

type WebSocketConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

type PipelineConfig struct {
	// ContextWindow is half the width of the conversation slice pulled
	// around a detected link, e.g. "60s".
	ContextWindow string `json:"contextWindow,omitempty"`
	QueueSize     int    `json:"queueSize,omitempty"`
	MaxRetries    int    `json:"maxRetries,omitempty"`
	// Strategy is one of conservative, balanced, liberal.
	Strategy string `json:"strategy,omitempty"`
	// EnabledLinkTypes limits extraction to the listed types; empty
	// means all types.
	EnabledLinkTypes []string `json:"enabledLinkTypes,omitempty"`
}

type StoreConfig struct {
	DBPath        string `json:"dbPath,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
	SweepSchedule string `json:"sweepSchedule,omitempty"`
	DrainSchedule string `json:"drainSchedule,omitempty"`
}

type NotesConfig struct {
	Files []NoteFileConfig `json:"files"`
	// Document configures the remote document service used by files
	// with backend "document".
	Document DocumentServiceConfig `json:"document,omitempty"`
}

type DocumentServiceConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	Token   string `json:"token,omitempty"`
}

// NoteFileConfig names a curation destination. Description is the only
// signal the file-selection step sees, so it should say what belongs in
// the file, not what the file is called.
type NoteFileConfig struct {
	Name        string `json:"name"`
	Backend     string `json:"backend"` // "file" or "document"
	Location    string `json:"location"`
	Description string `json:"description"`
}

type BackfillConfig struct {
	Enabled    bool   `json:"enabled"`
	BatchSize  int    `json:"batchSize,omitempty"`
	BatchDelay string `json:"batchDelay,omitempty"`
	MaxAgeDays int    `json:"maxAgeDays,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Channels: ChannelsConfig{},
		Pipeline: PipelineConfig{
			ContextWindow: DefaultContextWindow,
			QueueSize:     DefaultQueueSize,
			MaxRetries:    DefaultMaxRetries,
			Strategy:      DefaultStrategy,
		},
		Store: StoreConfig{
			RetentionDays: DefaultRetentionDays,
			SweepSchedule: DefaultSweepSchedule,
			DrainSchedule: DefaultDrainSchedule,
		},
		Backfill: BackfillConfig{
			Enabled:    true,
			BatchSize:  DefaultBatchSize,
			BatchDelay: DefaultBatchDelay,
			MaxAgeDays: DefaultMaxHistoryDays,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".dailynote")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("DAILYNOTE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("DAILYNOTE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("DAILYNOTE_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if token := os.Getenv("DAILYNOTE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("DAILYNOTE_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if strategy := os.Getenv("DAILYNOTE_STRATEGY"); strategy != "" {
		cfg.Pipeline.Strategy = strategy
	}
	if window := os.Getenv("DAILYNOTE_CONTEXT_WINDOW"); window != "" {
		cfg.Pipeline.ContextWindow = window
	}
	if days := os.Getenv("DAILYNOTE_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Store.RetentionDays = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Pipeline.ContextWindow == "" {
		cfg.Pipeline.ContextWindow = DefaultContextWindow
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = DefaultQueueSize
	}
	if cfg.Pipeline.MaxRetries <= 0 {
		cfg.Pipeline.MaxRetries = DefaultMaxRetries
	}
	if cfg.Pipeline.Strategy == "" {
		cfg.Pipeline.Strategy = DefaultStrategy
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(ConfigDir(), "data", "dailynote.db")
	}
	if cfg.Store.RetentionDays <= 0 {
		cfg.Store.RetentionDays = DefaultRetentionDays
	}
	if cfg.Store.SweepSchedule == "" {
		cfg.Store.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Store.DrainSchedule == "" {
		cfg.Store.DrainSchedule = DefaultDrainSchedule
	}
	if cfg.Backfill.BatchSize <= 0 {
		cfg.Backfill.BatchSize = DefaultBatchSize
	}
	if cfg.Backfill.BatchDelay == "" {
		cfg.Backfill.BatchDelay = DefaultBatchDelay
	}
	if cfg.Backfill.MaxAgeDays <= 0 {
		cfg.Backfill.MaxAgeDays = DefaultMaxHistoryDays
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lwen/dailynote/internal/classify"
	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/dedup"
	"github.com/lwen/dailynote/internal/fetch"
	"github.com/lwen/dailynote/internal/gateway"
	"github.com/lwen/dailynote/internal/llm"
	"github.com/lwen/dailynote/internal/notes"
	"github.com/lwen/dailynote/internal/pipeline"
	"github.com/lwen/dailynote/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "dailynote",
	Short: "dailynote - curate shared links from chats into living notes",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + pipeline + scheduled jobs)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dailynote status",
	RunE:  runStatus,
}

var allowCmd = &cobra.Command{
	Use:   "allow <session>",
	Short: "Whitelist a session (e.g. telegram:-100123456)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllow,
}

var denyCmd = &cobra.Command{
	Use:   "deny <session>",
	Short: "Remove a session from the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List whitelisted sessions",
	RunE:  runSessions,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <session>",
	Short: "Replay a session's stored history through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfill,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the retention sweep now",
	RunE:  runSweep,
}

var (
	allowNameFlag string
	allowKindFlag string
)

func init() {
	allowCmd.Flags().StringVar(&allowNameFlag, "name", "", "Display name for the session")
	allowCmd.Flags().StringVar(&allowKindFlag, "kind", "direct", "Session kind (direct or group)")
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, allowCmd, denyCmd, sessionsCmd, backfillCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'dailynote onboard' or set DAILYNOTE_API_KEY / OPENAI_API_KEY")
	}
	if len(cfg.Notes.Files) == 0 {
		return fmt.Errorf("no note files configured. Edit %s", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.Notes.Files = []config.NoteFileConfig{{
			Name:        "notes",
			Backend:     "file",
			Location:    "~/dailynote/notes.md",
			Description: "Everything worth keeping: articles, papers, videos, tools",
		}}
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and note files\n", cfgPath)
	fmt.Println("  2. Enable a channel (telegram, webhook or websocket)")
	fmt.Println("  3. Run 'dailynote gateway' and whitelist a session with 'dailynote allow'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Strategy: %s\n", cfg.Pipeline.Strategy)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Webhook: enabled=%v\n", cfg.Channels.Webhook.Enabled)
	fmt.Printf("WebSocket: enabled=%v\n", cfg.Channels.WebSocket.Enabled)
	fmt.Printf("Note files: %d\n", len(cfg.Notes.Files))

	st, err := store.NewStore(cfg.Store.DBPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	messages, _ := st.MessageCount()
	fingerprints, _ := st.FingerprintCount()
	deferred, _ := st.DeferredScanCount()
	fmt.Printf("Messages: %d\n", messages)
	fmt.Printf("Filed entries: %d\n", fingerprints)
	fmt.Printf("Deferred scans: %d\n", deferred)

	return nil
}

func runAllow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	session := args[0]
	err = st.AddWhitelist(store.WhitelistEntry{
		SessionID:   session,
		DisplayName: allowNameFlag,
		Kind:        allowKindFlag,
		AddedAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Allowed: %s\n", session)
	fmt.Println("Run 'dailynote backfill' to scan its stored history.")
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RemoveWhitelist(args[0]); err != nil {
		return err
	}
	fmt.Printf("Denied: %s\n", args[0])
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListWhitelist()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No whitelisted sessions.")
		return nil
	}
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", e.SessionID, e.Kind, name, e.AddedAt.Format("2006-01-02"))
	}
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set")
	}

	st, err := store.NewStore(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	files := make([]notes.NoteFile, 0, len(cfg.Notes.Files))
	backends := map[string]notes.Backend{"file": notes.NewFileBackend()}
	if cfg.Notes.Document.BaseURL != "" {
		backends["document"] = notes.NewDocumentBackend(cfg.Notes.Document.BaseURL, cfg.Notes.Document.Token)
	}
	for _, f := range cfg.Notes.Files {
		files = append(files, notes.NoteFile{Name: f.Name, Backend: f.Backend, Location: f.Location, Description: f.Description})
	}

	reasoner := llm.NewClient(cfg)
	p := pipeline.New(cfg, st, fetch.NewFetcher(), reasoner,
		dedup.NewIndex(st), classify.NewEngine(reasoner, cfg.Pipeline.Strategy), notes.NewWriter(backends), files)

	h := pipeline.NewHistoryProcessor(st, p, cfg.Backfill)
	fmt.Printf("Backfilling %s...\n", args[0])
	h.Start(cmd.Context(), args[0])
	h.Wait()
	fmt.Println("Done.")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.NewStore(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	n, err := st.SweepRetention(retention)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d messages older than %d days.\n", n, cfg.Store.RetentionDays)
	return nil
}

func openStore() (*store.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

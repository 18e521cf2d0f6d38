// Package gateway wires the whole service: channels feed the bus, the
// bus feeds the pipeline, and scheduled jobs keep the store tidy. It
// also serves the small admin API used by the CLI.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lwen/dailynote/internal/bus"
	"github.com/lwen/dailynote/internal/channel"
	"github.com/lwen/dailynote/internal/classify"
	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/dedup"
	"github.com/lwen/dailynote/internal/fetch"
	"github.com/lwen/dailynote/internal/llm"
	"github.com/lwen/dailynote/internal/notes"
	"github.com/lwen/dailynote/internal/pipeline"
	"github.com/lwen/dailynote/internal/sched"
	"github.com/lwen/dailynote/internal/store"
)

const (
	sweepJobName = "retention-sweep"
	drainJobName = "deferred-drain"

	drainBatchLimit = 50
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *store.Store
	pipeline   *pipeline.Pipeline
	whitelist  *pipeline.WhitelistManager
	backfill   *pipeline.HistoryProcessor
	sched      *sched.Service
	channels   *channel.ChannelManager
	admin      *http.Server
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	st, err := store.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	files, writer, err := buildNotes(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reasoner := llm.NewClient(cfg)
	g.pipeline = pipeline.New(cfg, st, fetch.NewFetcher(), reasoner,
		dedup.NewIndex(st), classify.NewEngine(reasoner, cfg.Pipeline.Strategy), writer, files)

	g.whitelist = pipeline.NewWhitelistManager(st)
	if cfg.Backfill.Enabled {
		g.backfill = pipeline.NewHistoryProcessor(st, g.pipeline, cfg.Backfill)
		g.whitelist.SetBackfill(g.backfill)
	}

	g.sched = sched.NewService()
	if err := g.registerJobs(); err != nil {
		_ = st.Close()
		return nil, err
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.admin = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: g.adminRouter(),
	}

	return g, nil
}

func buildNotes(cfg *config.Config) ([]notes.NoteFile, *notes.Writer, error) {
	if len(cfg.Notes.Files) == 0 {
		return nil, nil, fmt.Errorf("no note files configured")
	}

	backends := map[string]notes.Backend{
		"file": notes.NewFileBackend(),
	}
	if strings.TrimSpace(cfg.Notes.Document.BaseURL) != "" {
		backends["document"] = notes.NewDocumentBackend(cfg.Notes.Document.BaseURL, cfg.Notes.Document.Token)
	}

	files := make([]notes.NoteFile, 0, len(cfg.Notes.Files))
	for _, f := range cfg.Notes.Files {
		if _, ok := backends[f.Backend]; !ok {
			return nil, nil, fmt.Errorf("note file %s: unknown or unconfigured backend %q", f.Name, f.Backend)
		}
		files = append(files, notes.NoteFile{
			Name:        f.Name,
			Backend:     f.Backend,
			Location:    f.Location,
			Description: f.Description,
		})
	}
	return files, notes.NewWriter(backends), nil
}

func (g *Gateway) registerJobs() error {
	retention := time.Duration(g.cfg.Store.RetentionDays) * 24 * time.Hour
	err := g.sched.Register(sched.Job{
		Name:     sweepJobName,
		Schedule: g.cfg.Store.SweepSchedule,
		Run: func(ctx context.Context) error {
			n, err := g.store.SweepRetention(retention)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Printf("[gateway] retention sweep removed %d messages", n)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	return g.sched.Register(sched.Job{
		Name:     drainJobName,
		Schedule: g.cfg.Store.DrainSchedule,
		Run: func(ctx context.Context) error {
			n, err := g.pipeline.DrainDeferred(ctx, drainBatchLimit)
			if n > 0 {
				log.Printf("[gateway] drained %d deferred scans", n)
			}
			return err
		},
	})
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.whitelist.BindContext(ctx)

	go g.bus.DispatchOutbound(ctx)

	g.pipeline.Start(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.sched.Start(ctx)

	go g.processLoop(ctx)

	go func() {
		log.Printf("[gateway] admin api on %s", g.admin.Addr)
		if err := g.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[gateway] admin server error: %v", err)
		}
	}()

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	cancel() // stops in-flight backfills at the next batch boundary
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			if err := g.pipeline.HandleInbound(msg); err != nil {
				log.Printf("[gateway] inbound %s/%s: %v", msg.Channel, msg.SenderID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	if g.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.admin.Shutdown(ctx); err != nil {
			log.Printf("[gateway] admin shutdown warning: %v", err)
		}
		cancel()
	}
	_ = g.channels.StopAll()
	g.sched.Stop()
	if g.backfill != nil {
		g.backfill.Wait()
	}
	g.pipeline.Stop()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

package pipeline

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/store"
)

// HistoryProcessor replays a session's stored history through the
// pipeline in small batches. Runs are idempotent: links already filed
// dedupe out, so a crashed or repeated run never duplicates entries.
type HistoryProcessor struct {
	store     *store.Store
	pipeline  *Pipeline
	batchSize int
	delay     time.Duration
	maxAge    time.Duration

	mu      sync.Mutex
	running map[string]*backfillRun
	wg      sync.WaitGroup
}

type backfillRun struct {
	id     string
	cancel context.CancelFunc
}

func NewHistoryProcessor(st *store.Store, p *Pipeline, cfg config.BackfillConfig) *HistoryProcessor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	delay := 5 * time.Second
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.BatchDelay)); err == nil && d >= 0 {
		delay = d
	}
	maxAgeDays := cfg.MaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = config.DefaultMaxHistoryDays
	}

	return &HistoryProcessor{
		store:     st,
		pipeline:  p,
		batchSize: batchSize,
		delay:     delay,
		maxAge:    time.Duration(maxAgeDays) * 24 * time.Hour,
		running:   make(map[string]*backfillRun),
	}
}

// Start launches a backfill run for the session, replacing any run
// already in flight for it.
func (h *HistoryProcessor) Start(ctx context.Context, sessionID string) {
	runID := uuid.NewString()[:8]
	runCtx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if prev, ok := h.running[sessionID]; ok {
		prev.cancel()
	}
	h.running[sessionID] = &backfillRun{id: runID, cancel: cancel}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.finish(sessionID, runID, cancel)
		h.run(runCtx, sessionID, runID)
	}()
}

// Cancel stops the session's run at the next batch boundary.
func (h *HistoryProcessor) Cancel(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.running[sessionID]; ok {
		r.cancel()
		delete(h.running, sessionID)
	}
}

// Running reports whether a backfill is in flight for the session.
func (h *HistoryProcessor) Running(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[sessionID]
	return ok
}

// Wait blocks until all runs have finished.
func (h *HistoryProcessor) Wait() {
	h.wg.Wait()
}

func (h *HistoryProcessor) finish(sessionID, runID string, cancel context.CancelFunc) {
	h.mu.Lock()
	// Only clear the slot if it still belongs to this run; a newer run
	// may have replaced it.
	if current, ok := h.running[sessionID]; ok && current.id == runID {
		delete(h.running, sessionID)
	}
	h.mu.Unlock()
	cancel()
}

func (h *HistoryProcessor) run(ctx context.Context, sessionID, runID string) {
	oldest := time.Now().Add(-h.maxAge)
	afterID := int64(0)
	total := 0

	log.Printf("[backfill] run %s started for %s (history window %s)", runID, sessionID, h.maxAge)

	for {
		// Batch boundaries are the only cancellation points, so a
		// batch either fully processes or never starts.
		select {
		case <-ctx.Done():
			log.Printf("[backfill] run %s for %s cancelled after %d messages", runID, sessionID, total)
			return
		default:
		}

		ok, err := h.store.IsWhitelisted(sessionID)
		if err != nil {
			log.Printf("[backfill] run %s whitelist check: %v", runID, err)
			return
		}
		if !ok {
			log.Printf("[backfill] run %s stopped, %s no longer whitelisted", runID, sessionID)
			return
		}

		msgs, err := h.store.MessagesAfter(sessionID, afterID, oldest, h.batchSize)
		if err != nil {
			log.Printf("[backfill] run %s query batch: %v", runID, err)
			return
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			if err := h.pipeline.Process(ctx, m, true); err != nil {
				log.Printf("[backfill] run %s message %d: %v", runID, m.ID, err)
			}
		}
		total += len(msgs)
		afterID = msgs[len(msgs)-1].ID

		if len(msgs) < h.batchSize {
			break
		}

		select {
		case <-ctx.Done():
			log.Printf("[backfill] run %s for %s cancelled after %d messages", runID, sessionID, total)
			return
		case <-time.After(h.delay):
		}
	}

	log.Printf("[backfill] run %s finished for %s, %d messages scanned", runID, sessionID, total)
}

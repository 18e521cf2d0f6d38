// Package pipeline turns stored chat messages into curated note
// entries: link extraction, content fetch, summarization, dedup, and
// placement. Each session gets its own bounded work queue so a busy
// group cannot starve the others; overflow is parked in the store and
// drained on a schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lwen/dailynote/internal/bus"
	"github.com/lwen/dailynote/internal/classify"
	"github.com/lwen/dailynote/internal/config"
	"github.com/lwen/dailynote/internal/dedup"
	"github.com/lwen/dailynote/internal/extract"
	"github.com/lwen/dailynote/internal/llm"
	"github.com/lwen/dailynote/internal/notes"
	"github.com/lwen/dailynote/internal/store"
)

// maxConcurrentExternal bounds in-flight fetch and model calls across
// all session workers.
const maxConcurrentExternal = 4

// ContentFetcher is the slice of the fetch package the pipeline needs.
type ContentFetcher interface {
	Fetch(ctx context.Context, link extract.Link) (string, error)
}

type Pipeline struct {
	store     *store.Store
	extractor *extract.Extractor
	fetcher   ContentFetcher
	reasoner  llm.Client
	index     *dedup.Index
	engine    *classify.Engine
	writer    *notes.Writer
	files     []notes.NoteFile

	window     time.Duration
	queueSize  int
	maxRetries int
	retryBase  time.Duration
	sem        *semaphore.Weighted

	mu      sync.Mutex
	queues  map[string]chan int64
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func New(cfg *config.Config, st *store.Store, fetcher ContentFetcher, reasoner llm.Client,
	index *dedup.Index, engine *classify.Engine, writer *notes.Writer, files []notes.NoteFile) *Pipeline {

	window := time.Minute
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.Pipeline.ContextWindow)); err == nil && d > 0 {
		window = d
	}
	queueSize := cfg.Pipeline.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}
	maxRetries := cfg.Pipeline.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}

	return &Pipeline{
		store:      st,
		extractor:  extract.NewExtractor(cfg.Pipeline.EnabledLinkTypes),
		fetcher:    fetcher,
		reasoner:   reasoner,
		index:      index,
		engine:     engine,
		writer:     writer,
		files:      files,
		window:     window,
		queueSize:  queueSize,
		maxRetries: maxRetries,
		retryBase:  time.Second,
		sem:        semaphore.NewWeighted(maxConcurrentExternal),
		queues:     make(map[string]chan int64),
	}
}

// Start makes the pipeline accept work. Session workers are spawned
// lazily on first message.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.started = true
}

// Stop cancels all workers and waits for in-flight entries to settle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.started = false
	p.queues = make(map[string]chan int64)
	p.mu.Unlock()

	p.wg.Wait()
}

// HandleInbound is the entry point for live messages. Non-whitelisted
// sessions are dropped before anything touches the store. Messages
// without links are persisted for context but never queued.
func (p *Pipeline) HandleInbound(msg bus.InboundMessage) error {
	session := msg.SessionKey()

	ok, err := p.store.IsWhitelisted(session)
	if err != nil {
		return fmt.Errorf("whitelist check: %w", err)
	}
	if !ok {
		return nil
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id, err := p.store.AppendMessage(store.Message{
		MsgID:      msg.MsgID,
		SessionID:  session,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Content,
		Kind:       msg.Kind,
		Timestamp:  ts,
	})
	if err != nil {
		return err
	}

	if p.extractor.Scan(msg.Content) == nil {
		return nil
	}
	p.enqueue(session, id)
	return nil
}

func (p *Pipeline) enqueue(session string, msgID int64) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		if err := p.store.DeferScan(msgID); err != nil {
			log.Printf("[pipeline] defer scan for stopped pipeline: %v", err)
		}
		return
	}
	q, ok := p.queues[session]
	if !ok {
		q = make(chan int64, p.queueSize)
		p.queues[session] = q
		p.wg.Add(1)
		go p.worker(p.runCtx, session, q)
	}
	p.mu.Unlock()

	select {
	case q <- msgID:
	default:
		// Queue full: park the scan instead of blocking the channel
		// read loop. The drain job picks it up later.
		if err := p.store.DeferScan(msgID); err != nil {
			log.Printf("[pipeline] defer scan on full queue: %v", err)
		} else {
			log.Printf("[pipeline] queue full for %s, deferred message %d", session, msgID)
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, session string, q chan int64) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q:
			if err := p.ProcessMessage(ctx, id); err != nil {
				log.Printf("[pipeline] process message %d (%s): %v", id, session, err)
				if derr := p.store.DeferScan(id); derr != nil {
					log.Printf("[pipeline] re-defer message %d: %v", id, derr)
				}
			}
		}
	}
}

// ProcessMessage runs the full scan for one stored message. Safe to
// call repeatedly for the same message: already-filed links dedupe out.
func (p *Pipeline) ProcessMessage(ctx context.Context, msgID int64) error {
	m, err := p.store.GetMessage(msgID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return p.Process(ctx, *m, false)
}

// Process scans one message's links and files each one. isHistory marks
// entries produced by backfill.
func (p *Pipeline) Process(ctx context.Context, m store.Message, isHistory bool) error {
	links := p.extractor.Scan(m.Text)
	if len(links) == 0 {
		return nil
	}

	contextMsgs, err := p.conversationAround(m)
	if err != nil {
		return err
	}

	var firstErr error
	for _, link := range links {
		if err := p.processLink(ctx, m, link, contextMsgs, isHistory); err != nil {
			log.Printf("[pipeline] link %s in message %d: %v", link.URL, m.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pipeline) conversationAround(m store.Message) ([]string, error) {
	msgs, err := p.store.QueryContext(m.SessionID, m.Timestamp, p.window)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(msgs))
	for _, cm := range msgs {
		name := cm.SenderName
		if name == "" {
			name = cm.SenderID
		}
		out = append(out, fmt.Sprintf("%s: %s", name, cm.Text))
	}
	return out, nil
}

func (p *Pipeline) processLink(ctx context.Context, m store.Message, link extract.Link, contextMsgs []string, isHistory bool) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	content, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		// Summarize from the conversation alone.
		log.Printf("[pipeline] fetch %s: %v", link.URL, err)
		content = ""
	}

	var sum *llm.Summary
	err = llm.Retry(ctx, p.maxRetries, p.retryBase, func() error {
		s, err := p.reasoner.Summarize(ctx, link.URL, extract.TitleHint(link.URL), content, contextMsgs)
		if err == nil {
			sum = s
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("summarize %s: %w", link.URL, err)
	}

	// The fingerprint lock spans check through commit so two workers
	// holding the same link cannot both file it.
	unlock := p.index.Lock(dedup.Fingerprint(link.URL, sum.Title))
	defer unlock()

	status, rec, err := p.index.Check(link.URL, sum.Title, sum.Summary)
	if err != nil {
		return err
	}
	if status == dedup.StatusDuplicate {
		log.Printf("[pipeline] duplicate %s, already filed under %s", link.URL, rec.NoteFile)
		return nil
	}

	entry := notes.Entry{
		Title:     sum.Title,
		LinkTitle: sum.LinkTitle,
		URL:       link.URL,
		Date:      m.Timestamp.Format("2006.01"),
		Summary:   sum.Summary,
		SessionID: m.SessionID,
		IsHistory: isHistory,
	}

	if status == dedup.StatusUpdatable && rec != nil {
		err := p.updateExisting(ctx, rec, entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, notes.ErrNotFound) {
			return err
		}
		// The filed block was removed by hand; fall through and file
		// the entry fresh.
	}

	return p.insertNew(ctx, entry)
}

// updateExisting rewrites the previously filed block in place, keeping
// its position in the note.
func (p *Pipeline) updateExisting(ctx context.Context, rec *store.FingerprintRecord, entry notes.Entry) error {
	nf, ok := p.fileByName(rec.NoteFile)
	if !ok {
		return fmt.Errorf("note file %q no longer configured: %w", rec.NoteFile, notes.ErrNotFound)
	}

	unlock := p.writer.Lock(nf.Name)
	defer unlock()

	err := p.writer.Update(ctx, nf, entry)
	if errors.Is(err, notes.ErrBackendConflict) {
		err = p.writer.Update(ctx, nf, entry)
	}
	if err != nil {
		return err
	}
	return p.index.Commit(entry.URL, entry.Title, entry.Summary, rec.NoteFile, dedup.HeadingPath(rec))
}

func (p *Pipeline) insertNew(ctx context.Context, entry notes.Entry) error {
	trees := make(map[string]*notes.Tree, len(p.files))
	for _, f := range p.files {
		_, tree, err := p.writer.Snapshot(ctx, f)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", f.Name, err)
		}
		trees[f.Name] = tree
	}

	var dec *notes.Decision
	err := llm.Retry(ctx, p.maxRetries, p.retryBase, func() error {
		d, err := p.engine.Decide(ctx, entry, p.files, trees)
		if err == nil {
			dec = d
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("classify entry: %w", err)
	}

	nf, ok := p.fileByName(dec.NoteFile)
	if !ok {
		return fmt.Errorf("decision names unknown file %q", dec.NoteFile)
	}

	unlock := p.writer.Lock(nf.Name)
	defer unlock()

	for attempt := 0; ; attempt++ {
		err = p.writer.Insert(ctx, nf, *dec, entry)
		if err == nil {
			break
		}
		if attempt >= 1 || (!errors.Is(err, notes.ErrStaleDecision) && !errors.Is(err, notes.ErrBackendConflict)) {
			return fmt.Errorf("insert into %s: %w", nf.Name, err)
		}
		// The note changed between the snapshot and the write.
		// Re-decide once against the current tree, file selection kept.
		_, tree, serr := p.writer.Snapshot(ctx, nf)
		if serr != nil {
			return fmt.Errorf("re-snapshot %s: %w", nf.Name, serr)
		}
		dec, serr = p.engine.Decide(ctx, entry, []notes.NoteFile{nf}, map[string]*notes.Tree{nf.Name: tree})
		if serr != nil {
			return fmt.Errorf("re-classify entry: %w", serr)
		}
	}

	// Commit only after the note write is durable; a crash in between
	// re-processes the entry, never loses it.
	return p.index.Commit(entry.URL, entry.Title, entry.Summary, dec.NoteFile, dec.Path)
}

func (p *Pipeline) fileByName(name string) (notes.NoteFile, bool) {
	for _, f := range p.files {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return notes.NoteFile{}, false
}

// DrainDeferred processes up to limit parked scans. Failures are parked
// again for the next drain.
func (p *Pipeline) DrainDeferred(ctx context.Context, limit int) (int, error) {
	ids, err := p.store.TakeDeferredScans(limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i, id := range ids {
		select {
		case <-ctx.Done():
			for _, rest := range ids[i:] {
				_ = p.store.DeferScan(rest)
			}
			return processed, ctx.Err()
		default:
		}
		if err := p.ProcessMessage(ctx, id); err != nil {
			log.Printf("[pipeline] drain message %d: %v", id, err)
			if derr := p.store.DeferScan(id); derr != nil {
				log.Printf("[pipeline] re-defer message %d: %v", id, derr)
			}
			continue
		}
		processed++
	}
	return processed, nil
}

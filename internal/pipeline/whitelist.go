package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lwen/dailynote/internal/store"
)

// WhitelistManager controls which sessions the pipeline listens to.
// Allowing a session kicks off a history backfill when one is wired.
type WhitelistManager struct {
	store       *store.Store
	backfill    *HistoryProcessor
	backfillCtx context.Context
}

func NewWhitelistManager(st *store.Store) *WhitelistManager {
	return &WhitelistManager{store: st, backfillCtx: context.Background()}
}

// SetBackfill wires optional backfill-on-allow.
func (m *WhitelistManager) SetBackfill(h *HistoryProcessor) {
	m.backfill = h
}

// BindContext sets the context backfills started by Allow run under.
// Allow is typically called from an HTTP handler whose request context
// dies when the response is written, so backfills must not inherit it.
func (m *WhitelistManager) BindContext(ctx context.Context) {
	m.backfillCtx = ctx
}

func (m *WhitelistManager) Allow(sessionID, displayName, kind string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	err := m.store.AddWhitelist(store.WhitelistEntry{
		SessionID:   sessionID,
		DisplayName: displayName,
		Kind:        kind,
		AddedAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	log.Printf("[whitelist] allowed %s", sessionID)

	if m.backfill != nil {
		m.backfill.Start(m.backfillCtx, sessionID)
	}
	return nil
}

// Deny removes the session and cancels any backfill in flight for it.
// Already stored messages stay until the retention sweep.
func (m *WhitelistManager) Deny(sessionID string) error {
	if m.backfill != nil {
		m.backfill.Cancel(sessionID)
	}
	if err := m.store.RemoveWhitelist(sessionID); err != nil {
		return err
	}
	log.Printf("[whitelist] denied %s", sessionID)
	return nil
}

func (m *WhitelistManager) Allowed(sessionID string) (bool, error) {
	return m.store.IsWhitelisted(sessionID)
}

func (m *WhitelistManager) List() ([]store.WhitelistEntry, error) {
	return m.store.ListWhitelist()
}

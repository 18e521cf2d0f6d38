package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lwen/dailynote/internal/bus"
	"github.com/lwen/dailynote/internal/config"
)

const webhookChannelName = "webhook"

// webhookMessage is the inbound POST body. Bridges from other chat
// systems push one message per request.
type webhookMessage struct {
	MsgID      string `json:"msgId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName,omitempty"`
	IsGroup    bool   `json:"isGroup,omitempty"`
	Content    string `json:"content"`
	Kind       string `json:"kind,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"` // unix seconds
}

// WebhookChannel accepts messages over HTTP. It is inbound only; there
// is no delivery path back to the bridged system.
type WebhookChannel struct {
	BaseChannel
	port   int
	secret string
	server *http.Server
}

func NewWebhookChannel(cfg config.WebhookConfig, b *bus.MessageBus) (*WebhookChannel, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("webhook port is required")
	}
	return &WebhookChannel{
		BaseChannel: NewBaseChannel(webhookChannelName, b),
		port:        cfg.Port,
		secret:      cfg.Secret,
	}, nil
}

func (w *WebhookChannel) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/inbound", w.handleInbound)

	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: r,
	}

	go func() {
		log.Printf("[webhook] listening on :%d", w.port)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webhook] server error: %v", err)
		}
	}()
	return nil
}

func (w *WebhookChannel) handleInbound(wr http.ResponseWriter, r *http.Request) {
	if w.secret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			http.Error(wr, "forbidden", http.StatusForbidden)
			return
		}
	}

	var msg webhookMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(wr, "bad request", http.StatusBadRequest)
		return
	}
	if msg.ChatID == "" || msg.Content == "" {
		http.Error(wr, "chatId and content are required", http.StatusBadRequest)
		return
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(msg.Timestamp, 0)
	}

	w.bus.Inbound <- bus.InboundMessage{
		Channel:    webhookChannelName,
		MsgID:      msg.MsgID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ChatID:     msg.ChatID,
		ChatName:   msg.ChatName,
		IsGroup:    msg.IsGroup,
		Content:    msg.Content,
		Kind:       msg.Kind,
		Timestamp:  ts,
	}

	wr.WriteHeader(http.StatusAccepted)
}

// Send is a no-op: webhook sources have no return path.
func (w *WebhookChannel) Send(msg bus.OutboundMessage) error {
	log.Printf("[webhook] dropping outbound message for %s, channel is inbound only", msg.ChatID)
	return nil
}

func (w *WebhookChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webhook] shutdown error: %v", err)
		}
	}
	log.Printf("[webhook] stopped")
	return nil
}

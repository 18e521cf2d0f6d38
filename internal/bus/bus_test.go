package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := m.SessionKey(); got != "telegram:42" {
		t.Fatalf("SessionKey = %q, want telegram:42", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}

	select {
	case msg := <-got:
		if msg.Content != "hi" {
			t.Fatalf("content = %q, want hi", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message not delivered")
	}
}

func TestDispatchOutboundNoSubscriber(t *testing.T) {
	b := NewMessageBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// No subscriber registered; message is dropped without blocking.
	b.Outbound <- OutboundMessage{Channel: "ghost", Content: "x"}
	time.Sleep(50 * time.Millisecond)
}

// Package channel connects chat surfaces to the message bus. Channels
// only move messages; whether a session is curated is decided
// downstream by the whitelist.
package channel

import (
	"context"

	"github.com/lwen/dailynote/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(msg bus.OutboundMessage) error
	Stop() error
}

// BaseChannel carries what every channel needs: its name and the bus.
type BaseChannel struct {
	name string
	bus  *bus.MessageBus
}

func NewBaseChannel(name string, b *bus.MessageBus) BaseChannel {
	return BaseChannel{name: name, bus: b}
}

func (c *BaseChannel) Name() string {
	return c.name
}

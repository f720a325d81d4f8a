package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// Toast is the payload published for UI clients.
type Toast struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// BusSender publishes toasts on a SignalBus channel, which the websocket hub
// relays to browsers.
type BusSender struct {
	bus     domain.SignalBus
	channel string
	now     func() time.Time
}

// NewBusSender publishes on domain.ChannelToasts.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus, channel: domain.ChannelToasts, now: time.Now}
}

func (b *BusSender) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(Toast{Title: title, Message: message, At: b.now().UTC()})
	if err != nil {
		return fmt.Errorf("bus: marshal toast: %w", err)
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		return fmt.Errorf("bus: publish toast: %w", err)
	}
	return nil
}

func (b *BusSender) Name() string { return "bus" }

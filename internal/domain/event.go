package domain

import "time"

// Bus channels and streams used by the ledger.
const (
	ChannelPositions = "positions"
	ChannelPrices    = "prices"
	ChannelToasts    = "toasts"
	StreamPositions  = "positions:log"
)

// PositionEventType names a ledger state change.
type PositionEventType string

const (
	EventOpened    PositionEventType = "opened"
	EventUpdated   PositionEventType = "updated"
	EventActivated PositionEventType = "activated"
	EventClosed    PositionEventType = "closed"
	EventCancelled PositionEventType = "cancelled"
	EventPartial   PositionEventType = "partial"
	EventBalance   PositionEventType = "balance"
)

// PositionEvent is one entry of the ledger event log. Consumers reconcile
// incrementally by PositionID and Version instead of reloading everything.
type PositionEvent struct {
	ID         string            `json:"id"`
	Type       PositionEventType `json:"type"`
	PositionID string            `json:"positionId,omitempty"`
	Version    int64             `json:"version,omitempty"`
	Position   *Position         `json:"position,omitempty"`
	Closed     *ClosedSignal     `json:"closed,omitempty"`
	Balance    *BalanceSnapshot  `json:"balance,omitempty"`
	At         time.Time         `json:"at"`
}

// PriceTick is a single mark price observation.
type PriceTick struct {
	Ticker string    `json:"ticker"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

package domain

import (
	"strings"
	"time"
)

// TradeType is the direction of a position.
type TradeType string

const (
	TradeLong  TradeType = "Long"
	TradeShort TradeType = "Short"
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool {
	return t == TradeLong || t == TradeShort
}

// ParseTradeType accepts "long"/"short" and the buy/sell aliases used by the
// spot screens.
func ParseTradeType(s string) (TradeType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return TradeLong, true
	case "short", "sell":
		return TradeShort, true
	}
	return "", false
}

// PositionMode selects the balance pool and the settlement rules.
type PositionMode string

const (
	ModeSpot    PositionMode = "spot"
	ModeFutures PositionMode = "futures"
)

// Valid reports whether m is a known mode.
func (m PositionMode) Valid() bool {
	return m == ModeSpot || m == ModeFutures
}

// Pool returns the balance pool a position in this mode draws from.
func (m PositionMode) Pool() Pool {
	if m == ModeSpot {
		return PoolSpot
	}
	return PoolFutures
}

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	StatusPending PositionStatus = "pending"
	StatusActive  PositionStatus = "active"
	StatusClosed  PositionStatus = "closed"
)

// OrderType is the order that created the position.
type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStopLimit OrderType = "stop-limit"
)

// Valid reports whether o is a known order type.
func (o OrderType) Valid() bool {
	return o == OrderMarket || o == OrderLimit || o == OrderStopLimit
}

// InitialStatus is the status a new position receives for this order type.
func (o OrderType) InitialStatus() PositionStatus {
	if o == OrderMarket {
		return StatusActive
	}
	return StatusPending
}

// TakeProfitTarget is one rung of a take-profit ladder. Price and Percentage
// always describe the same level relative to the entry price.
type TakeProfitTarget struct {
	ID         string  `json:"id"`
	Price      float64 `json:"price"`
	Percentage float64 `json:"percentage"`
}

// Position is an open or pending simulated position.
type Position struct {
	ID                 string             `json:"id"`
	TradeType          TradeType          `json:"tradeType"`
	Ticker             string             `json:"ticker"`
	Leverage           int                `json:"leverage"`
	Risk               string             `json:"risk,omitempty"`
	Margin             float64            `json:"margin"`
	EntryPrice         float64            `json:"entryPrice"`
	MarkPrice          float64            `json:"markPrice"`
	PositionMode       PositionMode       `json:"positionMode"`
	Status             PositionStatus     `json:"status"`
	OrderType          OrderType          `json:"orderType"`
	OpenTimestamp      time.Time          `json:"openTimestamp"`
	TakeProfit         *float64           `json:"takeProfit,omitempty"`
	StopLoss           *float64           `json:"stopLoss,omitempty"`
	TakeProfitTargets  []TakeProfitTarget `json:"takeProfitTargets,omitempty"`
	TargetsHit         int                `json:"targetsHit,omitempty"`
	SellHalfOnDoubling bool               `json:"sellHalfOnDoubling,omitempty"`
	HalfSold           bool               `json:"halfSold,omitempty"`
	RealizedPnL        float64            `json:"realizedPnl,omitempty"`
	ReadOnly           bool               `json:"readOnly,omitempty"`
	Version            int64              `json:"version"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// IsActive reports whether the position is live and marked to market.
func (p Position) IsActive() bool { return p.Status == StatusActive }

// IsPending reports whether the position is waiting for its entry price.
func (p Position) IsPending() bool { return p.Status == StatusPending }

// IsClosed reports whether the position has been settled.
func (p Position) IsClosed() bool { return p.Status == StatusClosed }

// Clone returns a deep copy so callers can mutate pointer and slice fields
// without touching the stored record.
func (p Position) Clone() Position {
	out := p
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		out.TakeProfit = &v
	}
	if p.StopLoss != nil {
		v := *p.StopLoss
		out.StopLoss = &v
	}
	if p.TakeProfitTargets != nil {
		out.TakeProfitTargets = make([]TakeProfitTarget, len(p.TakeProfitTargets))
		copy(out.TakeProfitTargets, p.TakeProfitTargets)
	}
	return out
}

// RemainingTargets returns the ladder rungs not yet realized.
func (p Position) RemainingTargets() []TakeProfitTarget {
	if p.TargetsHit >= len(p.TakeProfitTargets) {
		return nil
	}
	return p.TakeProfitTargets[p.TargetsHit:]
}

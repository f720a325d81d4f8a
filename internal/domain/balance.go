package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool names one of the two independent cash balances.
type Pool string

const (
	PoolSpot    Pool = "spot"
	PoolFutures Pool = "futures"
)

// Valid reports whether p is a known pool.
func (p Pool) Valid() bool {
	return p == PoolSpot || p == PoolFutures
}

// Pools lists every pool in display order.
var Pools = []Pool{PoolSpot, PoolFutures}

// BalanceRecord is the persisted state of one pool. Locked is the margin held
// by open futures positions and is always zero for spot.
type BalanceRecord struct {
	Pool      Pool
	Balance   decimal.Decimal
	Locked    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

// Available is the amount that can be committed to a new position.
func (r BalanceRecord) Available() decimal.Decimal {
	return r.Balance.Sub(r.Locked)
}

// Snapshot converts the record into its display form.
func (r BalanceRecord) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Pool:      r.Pool,
		Balance:   r.Balance.InexactFloat64(),
		Locked:    r.Locked.InexactFloat64(),
		Available: r.Available().InexactFloat64(),
	}
}

// BalanceSnapshot is a read-only view of a pool.
type BalanceSnapshot struct {
	Pool      Pool    `json:"pool"`
	Balance   float64 `json:"balance"`
	Locked    float64 `json:"locked"`
	Available float64 `json:"available"`
}

// TradeStats is the aggregate win/loss tally. It survives history clears.
type TradeStats struct {
	TotalTrades int64 `json:"totalTrades"`
	TotalWins   int64 `json:"totalWins"`
}

// WinRate returns the percentage of winning trades. ok is false when no
// trade has been closed yet.
func (s TradeStats) WinRate() (rate float64, ok bool) {
	if s.TotalTrades <= 0 {
		return 0, false
	}
	return float64(s.TotalWins) / float64(s.TotalTrades) * 100, true
}

// Package pnl holds the pure position math shared by every caller: size,
// unrealized P&L, ROE, liquidation price and target levels. Degenerate
// inputs yield zero values; nothing here returns an error or panics.
package pnl

import (
	"math"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// Inputs are the position fields the calculator reads.
type Inputs struct {
	TradeType  domain.TradeType
	EntryPrice float64
	Margin     float64
	Leverage   int
}

// FromPosition extracts calculator inputs from a position.
func FromPosition(p domain.Position) Inputs {
	return Inputs{
		TradeType:  p.TradeType,
		EntryPrice: p.EntryPrice,
		Margin:     p.Margin,
		Leverage:   p.Leverage,
	}
}

// Result is the full evaluation of a position at one price.
type Result struct {
	PositionSize     float64 `json:"positionSize"`
	SizeInAsset      float64 `json:"sizeInAsset"`
	PnL              float64 `json:"pnl"`
	ROE              float64 `json:"roe"`
	LiquidationPrice float64 `json:"liquidationPrice"`
}

// PositionSize is the notional value, margin times leverage.
func PositionSize(margin float64, leverage int) float64 {
	return margin * float64(leverage)
}

// SizeInAsset converts the notional into units of the traded asset.
func SizeInAsset(margin float64, leverage int, entry float64) float64 {
	if entry <= 0 || !finite(entry) {
		return 0
	}
	return PositionSize(margin, leverage) / entry
}

// PnL is the unrealized profit at price. A price that is not positive means
// no mark is known and yields 0.
func PnL(in Inputs, price float64) float64 {
	size := SizeInAsset(in.Margin, in.Leverage, in.EntryPrice)
	if size == 0 || !finite(price) || price <= 0 {
		return 0
	}
	if in.TradeType == domain.TradeShort {
		return (in.EntryPrice - price) * size
	}
	return (price - in.EntryPrice) * size
}

// ROE is the return on margin in percent.
func ROE(pnl, margin float64) float64 {
	if margin <= 0 || !finite(pnl) {
		return 0
	}
	return pnl / margin * 100
}

// LiquidationPrice is the price at which the margin is fully consumed.
func LiquidationPrice(tt domain.TradeType, entry float64, leverage int) float64 {
	if leverage <= 0 || entry <= 0 || !finite(entry) {
		return 0
	}
	inv := 1 / float64(leverage)
	if tt == domain.TradeShort {
		return entry * (1 + inv)
	}
	return entry * (1 - inv)
}

// Evaluate computes every derived figure at price.
func Evaluate(in Inputs, price float64) Result {
	p := PnL(in, price)
	return Result{
		PositionSize:     PositionSize(in.Margin, in.Leverage),
		SizeInAsset:      SizeInAsset(in.Margin, in.Leverage, in.EntryPrice),
		PnL:              p,
		ROE:              ROE(p, in.Margin),
		LiquidationPrice: LiquidationPrice(in.TradeType, in.EntryPrice, in.Leverage),
	}
}

// Realized returns the settled pnl and roe for a close. A liquidation always
// loses the whole margin regardless of price.
func Realized(in Inputs, closePrice float64, reason domain.CloseReason) (pnl, roe float64) {
	if reason == domain.CloseLiquidation {
		pnl = -in.Margin
	} else {
		pnl = PnL(in, closePrice)
	}
	return pnl, ROE(pnl, in.Margin)
}

// Liquidated reports whether price has crossed the liquidation level.
func Liquidated(in Inputs, price float64) bool {
	liq := LiquidationPrice(in.TradeType, in.EntryPrice, in.Leverage)
	if liq <= 0 || price <= 0 {
		return false
	}
	if in.TradeType == domain.TradeShort {
		return price >= liq
	}
	return price <= liq
}

// StopLossPrice places a stop pct (0.05 = 5%) against the position.
func StopLossPrice(tt domain.TradeType, entry, pct float64) float64 {
	if entry <= 0 {
		return 0
	}
	if tt == domain.TradeShort {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// RiskReward is the distance to the first target over the distance to the
// stop. It is 0 when the stop sits on the entry.
func RiskReward(entry, target, stop float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 || entry <= 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// TargetROE is the ROE the position would show at target.
func TargetROE(tt domain.TradeType, entry, target float64, leverage int) float64 {
	if entry <= 0 {
		return 0
	}
	move := (target - entry) / entry
	if tt == domain.TradeShort {
		move = -move
	}
	return move * float64(leverage) * 100
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

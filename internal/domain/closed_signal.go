package domain

import "time"

// CloseReason records why a position was settled.
type CloseReason string

const (
	CloseManual      CloseReason = "manual"
	CloseTakeProfit  CloseReason = "tp"
	CloseStopLoss    CloseReason = "sl"
	CloseLiquidation CloseReason = "liquidation"
	ClosePartial     CloseReason = "partial"
)

// Valid reports whether r is a known close reason.
func (r CloseReason) Valid() bool {
	switch r {
	case CloseManual, CloseTakeProfit, CloseStopLoss, CloseLiquidation, ClosePartial:
		return true
	}
	return false
}

// ClosedSignal is an immutable history entry produced exactly once per
// settled position. PnL covers the whole position, partial realizations
// included; the embedded RealizedPnL is the partial share of it.
type ClosedSignal struct {
	Position
	ID             string      `json:"id"`
	PositionID     string      `json:"positionId"`
	ClosePrice     float64     `json:"closePrice"`
	PnL            float64     `json:"pnl"`
	ROE            float64     `json:"roe"`
	Reason         CloseReason `json:"reason"`
	CloseTimestamp time.Time   `json:"closeTimestamp"`
}

// IsWin reports whether the trade counts as a win for the tally.
func (c ClosedSignal) IsWin() bool { return c.PnL >= 0 }

// CloseResult is returned by every close path. Applied is false when the
// result is a projection that did not touch the stores.
type CloseResult struct {
	Closed  *ClosedSignal   `json:"closed,omitempty"`
	PnL     float64         `json:"pnl"`
	ROE     float64         `json:"roe"`
	Balance BalanceSnapshot `json:"balance"`
	Applied bool            `json:"applied"`
}

// CloseAllEstimate summarizes what CloseAll would realize at current marks.
type CloseAllEstimate struct {
	Count       int      `json:"count"`
	TotalPnL    float64  `json:"totalPnl"`
	PositionIDs []string `json:"positionIds"`
}

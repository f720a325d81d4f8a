package targets

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/ids"
	"github.com/alanyoungcy/simledger/internal/pnl"
)

var (
	ErrLadderFull      = fmt.Errorf("%w: at most %d take-profit targets", domain.ErrInvalidOrder, MaxTargets)
	ErrLastTarget      = fmt.Errorf("%w: a ladder keeps at least one target", domain.ErrInvalidOrder)
	ErrUnknownTarget   = fmt.Errorf("take-profit target %w", domain.ErrNotFound)
	ErrInvalidTargetPx = fmt.Errorf("%w: target price must be positive", domain.ErrInvalidOrder)
)

// Add appends a rung DefaultStep percent beyond the last one.
func Add(in []domain.TakeProfitTarget, tt domain.TradeType, entry float64) ([]domain.TakeProfitTarget, error) {
	if len(in) >= MaxTargets {
		return in, ErrLadderFull
	}
	last := 0.0
	if n := len(in); n > 0 && !math.IsNaN(in[n-1].Percentage) {
		last = in[n-1].Percentage
	}
	pct := last + DefaultStep
	out := append(clone(in), domain.TakeProfitTarget{
		ID:         ids.New(),
		Price:      PriceAt(tt, entry, pct),
		Percentage: pct,
	})
	return out, nil
}

// Remove drops the rung with id.
func Remove(in []domain.TakeProfitTarget, id string) ([]domain.TakeProfitTarget, error) {
	if len(in) <= 1 {
		return in, ErrLastTarget
	}
	out := make([]domain.TakeProfitTarget, 0, len(in)-1)
	for _, t := range in {
		if t.ID != id {
			out = append(out, t)
		}
	}
	if len(out) == len(in) {
		return in, ErrUnknownTarget
	}
	return out, nil
}

// SetPrice edits one rung's price and derives its percentage.
func SetPrice(in []domain.TakeProfitTarget, id string, price float64, tt domain.TradeType, entry float64) ([]domain.TakeProfitTarget, error) {
	if price <= 0 || math.IsNaN(price) {
		return in, ErrInvalidTargetPx
	}
	return edit(in, id, func(t *domain.TakeProfitTarget) {
		t.Price = price
		if entry > 0 {
			t.Percentage = Round4(Percentage(tt, entry, price))
		}
	})
}

// SetPercentage edits one rung's percentage and derives its price.
func SetPercentage(in []domain.TakeProfitTarget, id string, pct float64, tt domain.TradeType, entry float64) ([]domain.TakeProfitTarget, error) {
	if math.IsNaN(pct) || math.IsInf(pct, 0) || (entry > 0 && PriceAt(tt, entry, pct) <= 0) {
		return in, ErrInvalidTargetPx
	}
	return edit(in, id, func(t *domain.TakeProfitTarget) {
		t.Percentage = pct
		if entry > 0 {
			t.Price = PriceAt(tt, entry, pct)
		}
	})
}

// Sanitize drops rungs without a usable price and assigns missing ids.
func Sanitize(in []domain.TakeProfitTarget) []domain.TakeProfitTarget {
	out := make([]domain.TakeProfitTarget, 0, len(in))
	for _, t := range in {
		if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
			continue
		}
		if t.ID == "" {
			t.ID = ids.New()
		}
		out = append(out, t)
	}
	return out
}

// Summary describes a ladder against a stop.
type Summary struct {
	Targets    []domain.TakeProfitTarget `json:"targets"`
	Corrected  bool                      `json:"corrected"`
	StopLoss   float64                   `json:"stopLoss,omitempty"`
	RiskReward float64                   `json:"riskReward,omitempty"`
	TargetROE  []float64                 `json:"targetRoe,omitempty"`
}

// Plan validates a ladder and reports the stop, risk/reward to the first
// rung and the ROE each rung would realize. stop of 0 means none is set.
func Plan(in []domain.TakeProfitTarget, tt domain.TradeType, entry, stop float64, leverage int) Summary {
	res := Validate(Sanitize(in), entry, tt)
	s := Summary{Targets: res.Targets, Corrected: res.Corrected, StopLoss: stop}
	for _, t := range res.Targets {
		s.TargetROE = append(s.TargetROE, pnl.TargetROE(tt, entry, t.Price, leverage))
	}
	if stop > 0 && len(res.Targets) > 0 {
		s.RiskReward = math.Round(pnl.RiskReward(entry, res.Targets[0].Price, stop)*100) / 100
	}
	return s
}

func edit(in []domain.TakeProfitTarget, id string, fn func(*domain.TakeProfitTarget)) ([]domain.TakeProfitTarget, error) {
	out := clone(in)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
			return out, nil
		}
	}
	return in, ErrUnknownTarget
}

func clone(in []domain.TakeProfitTarget) []domain.TakeProfitTarget {
	out := make([]domain.TakeProfitTarget, len(in))
	copy(out, in)
	return out
}

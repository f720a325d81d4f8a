// Package targets keeps take-profit ladders ordered, spaced and consistent
// with the entry price.
package targets

import (
	"math"
	"sort"

	"github.com/alanyoungcy/simledger/internal/domain"
)

const (
	// MinGapPct is the minimum distance between adjacent rungs, in percent
	// of the earlier rung's price.
	MinGapPct = 5.0
	// MaxTargets is the longest ladder a position may carry.
	MaxTargets = 3
	// DefaultStep is the percentage added for each new rung.
	DefaultStep = 10.0

	tolerance = 1e-9
)

// Result is the outcome of Validate.
type Result struct {
	Targets   []domain.TakeProfitTarget `json:"targets"`
	Corrected bool                      `json:"corrected"`
}

// Validate returns targets sorted in the favorable direction for tt with
// each rung at least MinGapPct beyond the previous one. Rungs that break the
// rule are moved to exactly the minimum distance and rounded to 4 decimals.
// Percentages are then recomputed from entry. The input is not modified.
//
// Running Validate on its own output returns the same ladder with
// Corrected false.
func Validate(in []domain.TakeProfitTarget, entry float64, tt domain.TradeType) Result {
	out := make([]domain.TakeProfitTarget, len(in))
	copy(out, in)

	short := tt == domain.TradeShort
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Price, out[j].Price
		if math.IsNaN(a) || math.IsNaN(b) {
			return false
		}
		if short {
			return a > b
		}
		return a < b
	})

	corrected := false
	for i := 0; i+1 < len(out); i++ {
		cur, next := out[i].Price, out[i+1].Price
		if math.IsNaN(cur) || math.IsNaN(next) || cur <= 0 {
			continue
		}
		if short {
			raw := cur * (1 - MinGapPct/100)
			want := Round4(raw)
			if want < 0 {
				want = 0
			}
			if next > math.Max(raw, want)+tolerance {
				out[i+1].Price = want
				corrected = true
			}
			continue
		}
		raw := cur * (1 + MinGapPct/100)
		want := Round4(raw)
		if next < math.Min(raw, want)-tolerance {
			out[i+1].Price = want
			corrected = true
		}
	}

	if entry > 0 {
		for i := range out {
			if math.IsNaN(out[i].Price) {
				continue
			}
			out[i].Percentage = Percentage(tt, entry, out[i].Price)
		}
	}
	return Result{Targets: out, Corrected: corrected}
}

// Percentage is the favorable move from entry to price, in percent.
func Percentage(tt domain.TradeType, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	pct := (price - entry) / entry * 100
	if tt == domain.TradeShort {
		return -pct
	}
	return pct
}

// PriceAt is the price pct percent in the favorable direction from entry,
// rounded to 4 decimals and floored at zero.
func PriceAt(tt domain.TradeType, entry, pct float64) float64 {
	if entry <= 0 {
		return 0
	}
	var p float64
	if tt == domain.TradeShort {
		p = entry * (1 - pct/100)
	} else {
		p = entry * (1 + pct/100)
	}
	if p <= 0 {
		return 0
	}
	return Round4(p)
}

// Round4 rounds to 4 decimal places.
func Round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}

// Reached reports whether price has hit the target for a position of type tt.
func Reached(tt domain.TradeType, target, price float64) bool {
	if target <= 0 || price <= 0 {
		return false
	}
	if tt == domain.TradeShort {
		return price <= target
	}
	return price >= target
}

package pnl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/simledger/internal/domain"
)

const eps = 1e-9

func TestEvaluate_LongBTCScenario(t *testing.T) {
	t.Parallel()

	in := Inputs{TradeType: domain.TradeLong, EntryPrice: 50000, Margin: 100, Leverage: 10}
	r := Evaluate(in, 51000)

	assert.InDelta(t, 1000.0, r.PositionSize, eps)
	assert.InDelta(t, 0.02, r.SizeInAsset, eps)
	assert.InDelta(t, 20.0, r.PnL, eps)
	assert.InDelta(t, 20.0, r.ROE, eps)
	assert.InDelta(t, 45000.0, r.LiquidationPrice, eps)
}

func TestEvaluate_Short(t *testing.T) {
	t.Parallel()

	in := Inputs{TradeType: domain.TradeShort, EntryPrice: 2000, Margin: 50, Leverage: 4}
	r := Evaluate(in, 1900)

	assert.InDelta(t, 0.1, r.SizeInAsset, eps)
	assert.InDelta(t, 10.0, r.PnL, eps)
	assert.InDelta(t, 20.0, r.ROE, eps)
	assert.InDelta(t, 2500.0, r.LiquidationPrice, eps)
}

func TestPnL_ZeroAtEntry(t *testing.T) {
	t.Parallel()

	for _, tt := range []domain.TradeType{domain.TradeLong, domain.TradeShort} {
		for _, lev := range []int{1, 5, 20, 100} {
			in := Inputs{TradeType: tt, EntryPrice: 123.45, Margin: 77, Leverage: lev}
			assert.Zero(t, PnL(in, in.EntryPrice), "%s x%d", tt, lev)
			assert.Zero(t, ROE(PnL(in, in.EntryPrice), in.Margin), "%s x%d", tt, lev)
		}
	}
}

func TestLiquidationPrice_SidesOfEntry(t *testing.T) {
	t.Parallel()

	for _, entry := range []float64{0.0001, 1, 67500, 1e9} {
		for _, lev := range []int{1, 2, 10, 100} {
			long := LiquidationPrice(domain.TradeLong, entry, lev)
			short := LiquidationPrice(domain.TradeShort, entry, lev)
			assert.Less(t, long, entry)
			assert.Greater(t, short, entry)
		}
	}
}

func TestDegenerateInputs(t *testing.T) {
	t.Parallel()

	assert.Zero(t, SizeInAsset(100, 10, 0))
	assert.Zero(t, SizeInAsset(100, 10, -5))
	assert.Zero(t, ROE(10, 0))
	assert.Zero(t, ROE(10, -1))
	assert.Zero(t, LiquidationPrice(domain.TradeLong, 100, 0))
	assert.Zero(t, LiquidationPrice(domain.TradeShort, 0, 10))
	assert.Zero(t, PnL(Inputs{TradeType: domain.TradeLong, EntryPrice: 0, Margin: 10, Leverage: 2}, 50))
	assert.Zero(t, PnL(Inputs{TradeType: domain.TradeLong, EntryPrice: 10, Margin: 10, Leverage: 2}, math.NaN()))
	assert.Zero(t, PnL(Inputs{TradeType: domain.TradeLong, EntryPrice: 10, Margin: 10, Leverage: 2}, 0))
	assert.Zero(t, PnL(Inputs{TradeType: domain.TradeShort, EntryPrice: 10, Margin: 10, Leverage: 2}, -5))
}

func TestRealized_LiquidationLosesMargin(t *testing.T) {
	t.Parallel()

	in := Inputs{TradeType: domain.TradeLong, EntryPrice: 50000, Margin: 100, Leverage: 10}
	for _, price := range []float64{0, 1, 45000, 51000, 99999} {
		p, roe := Realized(in, price, domain.CloseLiquidation)
		assert.Equal(t, -100.0, p)
		assert.InDelta(t, -100.0, roe, eps)
	}

	p, roe := Realized(in, 51000, domain.CloseManual)
	assert.InDelta(t, 20.0, p, eps)
	assert.InDelta(t, 20.0, roe, eps)
}

func TestLiquidated(t *testing.T) {
	t.Parallel()

	long := Inputs{TradeType: domain.TradeLong, EntryPrice: 100, Margin: 10, Leverage: 10}
	assert.False(t, Liquidated(long, 91))
	assert.True(t, Liquidated(long, 89.9))
	assert.True(t, Liquidated(long, 80))

	short := Inputs{TradeType: domain.TradeShort, EntryPrice: 100, Margin: 10, Leverage: 10}
	assert.False(t, Liquidated(short, 109))
	assert.True(t, Liquidated(short, 110.5))

	// 1x long liquidates only at zero, which is never a valid price.
	spot := Inputs{TradeType: domain.TradeLong, EntryPrice: 100, Margin: 10, Leverage: 1}
	assert.False(t, Liquidated(spot, 0.01))
}

func TestLadderHelpers(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 95.0, StopLossPrice(domain.TradeLong, 100, 0.05), eps)
	assert.InDelta(t, 105.0, StopLossPrice(domain.TradeShort, 100, 0.05), eps)
	assert.InDelta(t, 2.0, RiskReward(100, 110, 95), eps)
	assert.Zero(t, RiskReward(100, 110, 100))
	assert.InDelta(t, 100.0, TargetROE(domain.TradeLong, 100, 110, 10), eps)
	assert.InDelta(t, 100.0, TargetROE(domain.TradeShort, 100, 90, 10), eps)
}

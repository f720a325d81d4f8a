package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/simledger/internal/cache/memory"
	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/ledger"
	storemem "github.com/alanyoungcy/simledger/internal/store/memory"
)

const eps = 1e-6

type fixture struct {
	svc    *PositionService
	stores domain.Stores
	ledger *ledger.Ledger
	prices *cachemem.PriceCache
	bus    *cachemem.SignalBus
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, mutate ...func(*PositionConfig, *PositionDeps)) *fixture {
	t.Helper()
	logger := discardLogger()
	stores := storemem.New()
	f := &fixture{
		stores: stores,
		ledger: ledger.New(stores.Balances, ledger.Defaults{Spot: 5000, Futures: 10000}, logger),
		prices: cachemem.NewPriceCache(),
		bus:    cachemem.NewSignalBus(),
	}
	cfg := DefaultPositionConfig()
	deps := PositionDeps{
		Stores: stores,
		Ledger: f.ledger,
		Prices: f.prices,
		Bus:    f.bus,
		Logger: logger,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	f.svc = NewPositionService(cfg, deps)
	return f
}

func (f *fixture) open(t *testing.T, req OpenRequest) domain.Position {
	t.Helper()
	p, err := f.svc.Open(context.Background(), req)
	require.NoError(t, err)
	return p
}

func (f *fixture) balance(t *testing.T, pool domain.Pool) domain.BalanceSnapshot {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), pool)
	require.NoError(t, err)
	return rec.Snapshot()
}

func btcLong() OpenRequest {
	return OpenRequest{
		Ticker:    "btcusdt",
		TradeType: domain.TradeLong,
		Mode:      domain.ModeFutures,
		OrderType: domain.OrderMarket,
		Margin:    100,
		Leverage:  10,
		Price:     50000,
	}
}

func TestOpenMarkAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	p := f.open(t, btcLong())
	assert.Equal(t, "BTCUSDT", p.Ticker)
	assert.Equal(t, domain.StatusActive, p.Status)
	assert.InDelta(t, 9900, f.balance(t, domain.PoolFutures).Available, eps)

	require.NoError(t, f.svc.OnPrice(ctx, "BTCUSDT", 51000, time.Now()))
	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	v := View(got)
	assert.InDelta(t, 0.02, v.SizeInAsset, eps)
	assert.InDelta(t, 20, v.PnL, eps)
	assert.InDelta(t, 20, v.ROE, eps)

	res, err := f.svc.Close(ctx, p.ID, 0, domain.CloseManual)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.InDelta(t, 20, res.PnL, eps)
	require.NotNil(t, res.Closed)
	assert.Equal(t, p.ID, res.Closed.PositionID)
	assert.Equal(t, 51000.0, res.Closed.ClosePrice)

	bal := f.balance(t, domain.PoolFutures)
	assert.InDelta(t, 10020, bal.Balance, eps)
	assert.InDelta(t, 0, bal.Locked, eps)

	hist, err := f.stores.History.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.CloseManual, hist[0].Reason)

	st, err := f.stores.Stats.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStats{TotalTrades: 1, TotalWins: 1}, st)

	_, err = f.svc.Close(ctx, p.ID, 0, domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
	assert.ErrorIs(t, err, domain.ErrInvalidPositionState)
}

func TestCloseLiquidationLosesMargin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	res, err := f.svc.Close(ctx, p.ID, 60000, domain.CloseLiquidation)
	require.NoError(t, err)
	assert.Equal(t, -100.0, res.PnL)
	assert.Equal(t, -100.0, res.ROE)
	assert.InDelta(t, 9900, f.balance(t, domain.PoolFutures).Balance, eps)

	st, err := f.stores.Stats.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalWins)
}

func TestSpotCycleNetsPnL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	p := f.open(t, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 100, Price: 100})
	assert.Equal(t, 1, p.Leverage)
	assert.InDelta(t, 4900, f.balance(t, domain.PoolSpot).Balance, eps)

	res, err := f.svc.Close(ctx, p.ID, 110, domain.CloseManual)
	require.NoError(t, err)
	assert.InDelta(t, 10, res.PnL, eps)
	assert.InDelta(t, 5010, f.balance(t, domain.PoolSpot).Balance, eps)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, func(c *PositionConfig, _ *PositionDeps) { c.MaxPositions = 1 })

	_, err := f.svc.Open(ctx, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 6000, Price: 100})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.InDelta(t, 5000, f.balance(t, domain.PoolSpot).Balance, eps)

	_, err = f.svc.Open(ctx, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 10, Leverage: 5, Price: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidLeverage)

	req := btcLong()
	req.Leverage = 101
	_, err = f.svc.Open(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidLeverage)

	req = btcLong()
	req.Margin = 4
	_, err = f.svc.Open(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidMargin)

	req = btcLong()
	req.Price = 0
	_, err = f.svc.Open(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	f.open(t, btcLong())
	_, err = f.svc.Open(ctx, btcLong())
	assert.ErrorIs(t, err, domain.ErrPositionLimit)
}

func TestOpenMarketUsesCachedPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.prices.SetPrice(ctx, "BTCUSDT", 50500, time.Now()))

	req := btcLong()
	req.Price = 0
	p := f.open(t, req)
	assert.Equal(t, 50500.0, p.EntryPrice)
	assert.Equal(t, 50500.0, p.MarkPrice)
}

func TestCancelPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	req := btcLong()
	req.OrderType = domain.OrderLimit
	req.Price = 49000
	p := f.open(t, req)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.InDelta(t, 9900, f.balance(t, domain.PoolFutures).Available, eps)

	_, err := f.svc.Close(ctx, p.ID, 0, domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrNotActive)

	bal, err := f.svc.CancelPending(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10000, bal.Available, eps)
	assert.InDelta(t, 10000, bal.Balance, eps)

	hist, err := f.stores.History.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = f.svc.CancelPending(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active := f.open(t, btcLong())
	_, err = f.svc.CancelPending(ctx, active.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestReadOnlyExample(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.SeedExample(ctx))
	require.NoError(t, f.svc.SeedExample(ctx))
	ex, err := f.svc.Get(ctx, ExampleID)
	require.NoError(t, err)
	assert.True(t, ex.ReadOnly)
	assert.InDelta(t, 10000, f.balance(t, domain.PoolFutures).Available, eps)

	_, err = f.svc.AdjustLeverage(ctx, ExampleID, 20, false)
	assert.ErrorIs(t, err, domain.ErrReadOnlyPosition)
	_, err = f.svc.Close(ctx, ExampleID, 0, domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrReadOnlyPosition)
	_, _, err = f.svc.SetTakeProfitStopLoss(ctx, ExampleID, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPositionState)

	require.NoError(t, f.svc.OnPrice(ctx, "BTCUSDT", 1000, time.Now()))
	ex, err = f.svc.Get(ctx, ExampleID)
	require.NoError(t, err)
	assert.True(t, ex.IsActive())
	assert.Equal(t, 68250.75, ex.MarkPrice)
}

func TestAdjustLeverage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SeedExample(ctx))

	a := f.open(t, btcLong())
	b := f.open(t, btcLong())
	spot := f.open(t, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 10, Price: 100})

	_, err := f.svc.AdjustLeverage(ctx, spot.ID, 5, false)
	assert.ErrorIs(t, err, domain.ErrInvalidLeverage)
	_, err = f.svc.AdjustLeverage(ctx, a.ID, 0, false)
	assert.ErrorIs(t, err, domain.ErrInvalidLeverage)

	out, err := f.svc.AdjustLeverage(ctx, a.ID, 25, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 25, out[0].Leverage)

	out, err = f.svc.AdjustLeverage(ctx, a.ID, 5, true)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	gotB, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, gotB.Leverage)
	ex, err := f.svc.Get(ctx, ExampleID)
	require.NoError(t, err)
	assert.Equal(t, 50, ex.Leverage)
	assert.InDelta(t, 9800, f.balance(t, domain.PoolFutures).Available, eps)
}

func TestSetTakeProfitStopLoss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	sl := 48000.0
	got, corrected, err := f.svc.SetTakeProfitStopLoss(ctx, p.ID, []domain.TakeProfitTarget{
		{ID: "a", Price: 52000},
		{ID: "b", Price: 52100},
	}, &sl)
	require.NoError(t, err)
	assert.True(t, corrected)
	require.Len(t, got.TakeProfitTargets, 2)
	assert.InDelta(t, 54600, got.TakeProfitTargets[1].Price, eps)
	assert.InDelta(t, 9.2, got.TakeProfitTargets[1].Percentage, eps)
	require.NotNil(t, got.StopLoss)
	assert.InDelta(t, 9900, f.balance(t, domain.PoolFutures).Available, eps)

	again, corrected, err := f.svc.SetTakeProfitStopLoss(ctx, p.ID, got.TakeProfitTargets, &sl)
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Equal(t, got.TakeProfitTargets, again.TakeProfitTargets)

	four := []domain.TakeProfitTarget{{Price: 55000}, {Price: 60000}, {Price: 65000}, {Price: 70000}}
	_, _, err = f.svc.SetTakeProfitStopLoss(ctx, p.ID, four, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPartialCloseIsProjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	res, err := f.svc.Close(ctx, p.ID, 51000, domain.ClosePartial)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Closed)
	assert.InDelta(t, 20, res.PnL, eps)
	assert.InDelta(t, 10020, res.Balance.Balance, eps)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())
	assert.Equal(t, p.Version, got.Version)
	assert.InDelta(t, 10000, f.balance(t, domain.PoolFutures).Balance, eps)
}

func TestTakePartial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	_, err := f.svc.TakePartial(ctx, p.ID, 1, 51000)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	res, err := f.svc.TakePartial(ctx, p.ID, 0.5, 51000)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.InDelta(t, 10, res.PnL, eps)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, got.Margin, eps)

	bal := f.balance(t, domain.PoolFutures)
	assert.InDelta(t, 10010, bal.Balance, eps)
	assert.InDelta(t, 50, bal.Locked, eps)

	st, err := f.stores.Stats.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalTrades)
}

func TestEstimateAndCloseAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SeedExample(ctx))

	f.open(t, btcLong())
	short := btcLong()
	short.TradeType = domain.TradeShort
	f.open(t, short)
	pending := btcLong()
	pending.OrderType = domain.OrderLimit
	pending.Price = 40000
	f.open(t, pending)
	require.NoError(t, f.svc.OnPrice(ctx, "BTCUSDT", 50500, time.Now()))

	est, err := f.svc.EstimateCloseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, est.Count)
	assert.InDelta(t, 0, est.TotalPnL, eps)

	results, err := f.svc.CloseAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	open, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, open, 2)
	pendingOnly, err := f.svc.List(ctx, ListFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pendingOnly, 1)
}

func TestSingleWriterLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locks := cachemem.NewLockManager()
	f := newFixture(t, func(c *PositionConfig, d *PositionDeps) {
		c.Account = "alice"
		c.LockTTL = 60 * time.Millisecond
		d.Locks = locks
	})

	release, err := locks.Acquire(ctx, "ledger:alice", time.Minute)
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, btcLong())
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	f.open(t, btcLong())
}

func TestSubscribeAndReplay(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	events, err := f.svc.Subscribe(ctx)
	require.NoError(t, err)

	p := f.open(t, btcLong())
	select {
	case evt := <-events:
		assert.Equal(t, domain.EventOpened, evt.Type)
		assert.Equal(t, p.ID, evt.PositionID)
		assert.Equal(t, int64(1), evt.Version)
		require.NotNil(t, evt.Balance)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	_, err = f.svc.Close(ctx, p.ID, 50000, domain.CloseManual)
	require.NoError(t, err)

	logged, err := f.svc.Replay(ctx, "0", 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, domain.EventClosed, logged[1].Type)
	require.NotNil(t, logged[1].Closed)

	rest, err := f.svc.Replay(ctx, logged[0].Cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, logged[1].ID, rest[0].ID)
}

func TestStopLossMustSitOnLosingSide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	req := btcLong()
	req.OrderType = domain.OrderLimit
	req.Price = 40000
	above := 60000.0
	req.StopLoss = &above
	_, err := f.svc.Open(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.InDelta(t, 10000, f.balance(t, domain.PoolFutures).Available, eps)

	below := 39000.0
	req.StopLoss = &below
	p := f.open(t, req)

	_, _, err = f.svc.SetTakeProfitStopLoss(ctx, p.ID, nil, &above)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	breakeven := 40000.0
	got, _, err := f.svc.SetTakeProfitStopLoss(ctx, p.ID, nil, &breakeven)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, *got.StopLoss)

	short := f.open(t, OpenRequest{
		Ticker: "ETHUSDT", TradeType: domain.TradeShort, Margin: 50, Leverage: 5, Price: 3000,
	})
	low := 2900.0
	_, _, err = f.svc.SetTakeProfitStopLoss(ctx, short.ID, nil, &low)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	high := 3100.0
	_, _, err = f.svc.SetTakeProfitStopLoss(ctx, short.ID, nil, &high)
	assert.NoError(t, err)
}

func TestEditLadderOneRungAtATime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	got, corrected, err := f.svc.AddTarget(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, corrected)
	require.Len(t, got.TakeProfitTargets, 1)
	assert.InDelta(t, 55000, got.TakeProfitTargets[0].Price, eps)

	got, _, err = f.svc.AddTarget(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.TakeProfitTargets, 2)
	first, second := got.TakeProfitTargets[0].ID, got.TakeProfitTargets[1].ID
	assert.InDelta(t, 20, got.TakeProfitTargets[1].Percentage, eps)

	price := 70000.0
	got, corrected, err = f.svc.EditTarget(ctx, p.ID, second, TargetEdit{Price: &price})
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.InDelta(t, 40, got.TakeProfitTargets[1].Percentage, eps)

	pct := 15.0
	got, _, err = f.svc.EditTarget(ctx, p.ID, first, TargetEdit{Percentage: &pct})
	require.NoError(t, err)
	assert.InDelta(t, 57500, got.TakeProfitTargets[0].Price, eps)
	assert.InDelta(t, 70000, got.TakeProfitTargets[1].Price, eps, "other rung untouched")

	tooClose := 58000.0
	got, corrected, err = f.svc.EditTarget(ctx, p.ID, second, TargetEdit{Price: &tooClose})
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.InDelta(t, 60375, got.TakeProfitTargets[1].Price, eps)
	assert.InDelta(t, 20.75, got.TakeProfitTargets[1].Percentage, eps)

	_, _, err = f.svc.EditTarget(ctx, p.ID, second, TargetEdit{})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, _, err = f.svc.EditTarget(ctx, p.ID, "missing", TargetEdit{Price: &price})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, _, err = f.svc.RemoveTarget(ctx, p.ID, first)
	require.NoError(t, err)
	require.Len(t, got.TakeProfitTargets, 1)
	assert.Equal(t, second, got.TakeProfitTargets[0].ID)

	_, _, err = f.svc.RemoveTarget(ctx, p.ID, second)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	require.NoError(t, f.svc.SeedExample(ctx))
	_, _, err = f.svc.AddTarget(ctx, ExampleID)
	assert.ErrorIs(t, err, domain.ErrReadOnlyPosition)
}

func TestEditLadderRejectedAfterRealizedRung(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.open(t, btcLong())

	_, _, err := f.svc.SetTakeProfitStopLoss(ctx, p.ID, []domain.TakeProfitTarget{
		{ID: "t1", Price: 55000},
		{ID: "t2", Price: 60000},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.OnPrice(ctx, "BTCUSDT", 55000, time.Now()))

	_, _, err = f.svc.RemoveTarget(ctx, p.ID, "t2")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

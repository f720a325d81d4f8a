package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

type fakeArchiver struct {
	calls  []time.Time
	fail   bool
	counts int64
}

func (a *fakeArchiver) ArchiveHistory(_ context.Context, before time.Time) (string, int64, error) {
	a.calls = append(a.calls, before)
	if a.fail {
		return "", 0, errors.New("s3 down")
	}
	return "history/" + before.Format("2006-01-02") + ".jsonl", a.counts, nil
}

func (a *fakeArchiver) ListArchives(context.Context) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "history/2026-10-17.jsonl", Size: 10}}, nil
}

func TestPortfolioSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ps := NewPortfolioService(f.stores, f.ledger, nil, discardLogger())

	sum, err := ps.Summary(ctx)
	require.NoError(t, err)
	assert.Nil(t, sum.WinRate)
	assert.Len(t, sum.Balances, 2)

	a := f.open(t, btcLong())
	f.open(t, btcLong())
	pending := btcLong()
	pending.OrderType = domain.OrderLimit
	pending.Price = 40000
	f.open(t, pending)

	_, err = f.svc.Close(ctx, a.ID, 51000, domain.CloseManual)
	require.NoError(t, err)
	tick(t, f, 49000)

	sum, err = ps.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, sum.WinRate)
	assert.Equal(t, 100.0, *sum.WinRate)
	assert.Equal(t, 1, sum.Open)
	assert.Equal(t, 1, sum.Pending)
	assert.InDelta(t, -20, sum.ActivePnL, eps)
	assert.InDelta(t, 0, sum.TodayPnL, eps)
}

func TestClearHistoryKeepsTally(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	arch := &fakeArchiver{counts: 2}
	ps := NewPortfolioService(f.stores, f.ledger, arch, discardLogger())

	fut := f.open(t, btcLong())
	spot := f.open(t, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 100, Price: 100})
	_, err := f.svc.Close(ctx, fut.ID, 49000, domain.CloseManual)
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, spot.ID, 120, domain.CloseManual)
	require.NoError(t, err)

	res, err := ps.ClearHistory(ctx, domain.ModeSpot)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Removed)
	assert.Equal(t, int64(2), res.Archived)
	assert.NotEmpty(t, res.ArchivePath)

	hist, err := ps.History(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ModeFutures, hist[0].PositionMode)

	st, err := ps.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStats{TotalTrades: 2, TotalWins: 1}, st)

	_, err = ps.ClearHistory(ctx, "margin")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestClearHistoryAbortsWhenArchiveFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ps := NewPortfolioService(f.stores, f.ledger, &fakeArchiver{fail: true}, discardLogger())

	p := f.open(t, btcLong())
	_, err := f.svc.Close(ctx, p.ID, 50000, domain.CloseManual)
	require.NoError(t, err)

	_, err = ps.ClearHistory(ctx, "")
	require.Error(t, err)
	hist, err := ps.History(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestArchiveDailyCutoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	arch := &fakeArchiver{}
	ps := NewPortfolioService(f.stores, f.ledger, arch, discardLogger())
	ps.now = func() time.Time { return time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC) }

	path, _, err := ps.ArchiveDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, "history/2026-10-18.jsonl", path)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), arch.calls[0])

	archives, err := ps.Archives(ctx)
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	none := NewPortfolioService(f.stores, f.ledger, nil, discardLogger())
	archives, err = none.Archives(ctx)
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestResetBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ps := NewPortfolioService(f.stores, f.ledger, nil, discardLogger())

	f.open(t, OpenRequest{Ticker: "ETHUSDT", TradeType: domain.TradeLong, Mode: domain.ModeSpot, Margin: 100, Price: 100})
	bal, err := ps.ResetBalance(ctx, domain.PoolSpot)
	require.NoError(t, err)
	assert.InDelta(t, 5000, bal.Balance, eps)
}

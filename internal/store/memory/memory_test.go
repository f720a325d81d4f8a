package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

func TestPositionStore_CAS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPositionStore()

	p, err := s.Create(ctx, domain.Position{ID: "p1", Status: domain.StatusActive, Margin: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	_, err = s.Create(ctx, domain.Position{ID: "p1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	p.Leverage = 5
	p2, err := s.Update(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p2.Version)

	// Writing from the stale copy loses.
	p.Leverage = 7
	_, err = s.Update(ctx, p)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Leverage)
}

func TestPositionStore_MarkClosedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPositionStore()

	p, err := s.Create(ctx, domain.Position{ID: "p1", Status: domain.StatusActive})
	require.NoError(t, err)

	require.NoError(t, s.MarkClosed(ctx, "p1", p.Version))
	assert.ErrorIs(t, s.MarkClosed(ctx, "p1", p.Version+1), domain.ErrPositionClosed)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsClosed())
}

func TestPositionStore_KeepsRecentClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPositionStore()
	s.keep = 2

	for _, id := range []string{"a", "b", "c"} {
		p, err := s.Create(ctx, domain.Position{ID: id, Status: domain.StatusActive, Margin: 1})
		require.NoError(t, err)
		require.NoError(t, s.MarkClosed(ctx, id, p.Version))
	}

	_, err := s.GetByID(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, id := range []string{"b", "c"} {
		got, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.IsClosed())
	}
	assert.Len(t, s.byID, 2)
}

func TestPositionStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPositionStore()

	tp := 10.0
	_, err := s.Create(ctx, domain.Position{ID: "p1", TakeProfit: &tp,
		TakeProfitTargets: []domain.TakeProfitTarget{{ID: "a", Price: 1}}})
	require.NoError(t, err)

	got, _ := s.GetByID(ctx, "p1")
	*got.TakeProfit = 99
	got.TakeProfitTargets[0].Price = 99

	again, _ := s.GetByID(ctx, "p1")
	assert.Equal(t, 10.0, *again.TakeProfit)
	assert.Equal(t, 1.0, again.TakeProfitTargets[0].Price)
}

func TestHistoryStore_ListAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewHistoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, mode := range []domain.PositionMode{domain.ModeSpot, domain.ModeFutures, domain.ModeSpot} {
		c := domain.ClosedSignal{ID: string(rune('a' + i)), CloseTimestamp: base.Add(time.Duration(i) * time.Hour)}
		c.PositionMode = mode
		require.NoError(t, s.Append(ctx, c))
	}
	assert.ErrorIs(t, s.Append(ctx, domain.ClosedSignal{ID: "a"}), domain.ErrAlreadyExists)

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	old, err := s.ListBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Len(t, old, 2)

	n, err := s.Clear(ctx, domain.ModeSpot)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, _ := s.List(ctx, domain.ListOpts{})
	require.Len(t, left, 1)
	assert.Equal(t, domain.ModeFutures, left[0].PositionMode)

	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBalanceStore_CAS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewBalanceStore()

	_, err := s.Get(ctx, domain.PoolSpot)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err := s.Put(ctx, domain.BalanceRecord{Pool: domain.PoolSpot, Balance: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	_, err = s.Put(ctx, domain.BalanceRecord{Pool: domain.PoolSpot, Balance: decimal.NewFromInt(6)})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestStatsStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStatsStore()

	require.NoError(t, s.Record(ctx, true))
	require.NoError(t, s.Record(ctx, false))
	st, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStats{TotalTrades: 2, TotalWins: 1}, st)
}

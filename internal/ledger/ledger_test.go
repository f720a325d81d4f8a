package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/store/memory"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.NewBalanceStore(), Defaults{Spot: 5000, Futures: 10000}, logger)
}

func TestDefaultsOnFirstUse(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	snaps, err := l.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.BalanceSnapshot{Pool: domain.PoolSpot, Balance: 5000, Available: 5000}, snaps[0])
	assert.Equal(t, domain.BalanceSnapshot{Pool: domain.PoolFutures, Balance: 10000, Available: 10000}, snaps[1])
}

func TestSpotCycleNetsPnL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	snap, err := l.Debit(ctx, domain.PoolSpot, 100)
	require.NoError(t, err)
	assert.Equal(t, 4900.0, snap.Available)

	snap, err = l.Settle(ctx, domain.PoolSpot, 100, 20)
	require.NoError(t, err)
	assert.Equal(t, 5020.0, snap.Balance)
	assert.Equal(t, 5020.0, snap.Available)
}

func TestFuturesCycleNetsPnL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	snap, err := l.Debit(ctx, domain.PoolFutures, 100)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 100.0, snap.Locked)
	assert.Equal(t, 9900.0, snap.Available)

	snap, err = l.Settle(ctx, domain.PoolFutures, 100, -100)
	require.NoError(t, err)
	assert.Equal(t, 9900.0, snap.Balance)
	assert.Equal(t, 0.0, snap.Locked)
	assert.Equal(t, 9900.0, snap.Available)
}

func TestDebitInsufficientFunds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Debit(ctx, domain.PoolSpot, 5000.01)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	avail, err := l.Available(ctx, domain.PoolSpot)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, avail)

	_, err = l.Debit(ctx, domain.PoolSpot, 5000)
	assert.NoError(t, err)
}

func TestRefundRestoresExactMargin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	for _, pool := range domain.Pools {
		before, err := l.Available(ctx, pool)
		require.NoError(t, err)
		_, err = l.Debit(ctx, pool, 33.33)
		require.NoError(t, err)
		snap, err := l.Refund(ctx, pool, 33.33)
		require.NoError(t, err)
		assert.Equal(t, before, snap.Available)
	}
}

func TestProjectDoesNotWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Debit(ctx, domain.PoolFutures, 50)
	require.NoError(t, err)

	proj, err := l.Project(ctx, domain.PoolFutures, 25, 5)
	require.NoError(t, err)
	assert.Equal(t, 10005.0, proj.Balance)
	assert.Equal(t, 25.0, proj.Locked)

	rec, err := l.Get(ctx, domain.PoolFutures)
	require.NoError(t, err)
	assert.Equal(t, "10000", rec.Balance.String())
	assert.Equal(t, "50", rec.Locked.String())
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Debit(ctx, domain.PoolFutures, 50)
	require.NoError(t, err)
	snap, err := l.Reset(ctx, domain.PoolFutures)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Available)
}

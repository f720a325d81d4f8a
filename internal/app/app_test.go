package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/config"
	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Cache.Backend = "memory"
	cfg.Mode = "feed"
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireMemoryBackends(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, testConfig(t), quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Empty(t, deps.Checks)
	assert.Nil(t, deps.Archiver)

	example, err := deps.Positions.Get(ctx, service.ExampleID)
	require.NoError(t, err)
	assert.True(t, example.ReadOnly)

	pos, err := deps.Positions.Open(ctx, service.OpenRequest{
		Ticker: "BTCUSDT", TradeType: domain.TradeLong, Mode: domain.ModeFutures,
		OrderType: domain.OrderMarket, Margin: 100, Leverage: 10, Price: 50000,
	})
	require.NoError(t, err)

	require.NoError(t, deps.Prices.HandleTick(ctx, domain.PriceTick{Ticker: "BTCUSDT", Price: 51000}))
	pos, err = deps.Positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 51000, pos.MarkPrice, 1e-9)

	balances, err := deps.Portfolio.Balances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 2)
}

func TestWireSQLiteCreatesDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.SQLite.Path = t.TempDir() + "/nested/ledger.db"
	cfg.Ledger.SeedExample = false

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Contains(t, deps.Checks, "sqlite")
	assert.NoError(t, deps.Checks["sqlite"](context.Background()))

	open, err := deps.Stores.Positions.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestWireRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "etcd"
	_, _, err := Wire(context.Background(), cfg, quietLogger())
	assert.ErrorContains(t, err, "unknown backend")
}

func TestRunFeedModeStopsOnCancel(t *testing.T) {
	a := New(testConfig(t), quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed mode did not stop")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "trade"
	a := New(cfg, quietLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

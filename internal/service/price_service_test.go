package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

func TestPriceServiceHandleTick(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	ps := NewPriceService(f.prices, f.bus, f.svc, nil, discardLogger())

	prices, err := f.bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)
	p := f.open(t, btcLong())

	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ps.HandleTick(ctx, domain.PriceTick{Ticker: "btcusdt", Price: 51000, At: at}))

	got, err := ps.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 51000.0, got.Price)
	assert.True(t, got.At.Equal(at))

	pos, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 51000.0, pos.MarkPrice)

	select {
	case raw := <-prices:
		var tick domain.PriceTick
		require.NoError(t, json.Unmarshal(raw, &tick))
		assert.Equal(t, "BTCUSDT", tick.Ticker)
	case <-time.After(time.Second):
		t.Fatal("no price event")
	}

	all, err := ps.GetPrices(ctx, []string{"btcusdt", "ETHUSDT", " "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 51000}, all)
}

func TestPriceServiceRejectsBadTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ps := NewPriceService(f.prices, nil, nil, nil, discardLogger())

	err := ps.HandleTick(context.Background(), domain.PriceTick{Ticker: "BTCUSDT", Price: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = ps.GetPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

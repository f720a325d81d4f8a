package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

func TestPriceCache_IgnoresOlderObservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewPriceCache()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetPrice(ctx, "BTCUSDT", 100, t0.Add(time.Second)))
	require.NoError(t, c.SetPrice(ctx, "BTCUSDT", 90, t0))

	p, ts, err := c.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)
	assert.True(t, ts.Equal(t0.Add(time.Second)))

	_, _, err = c.GetPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err := c.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 100}, m)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRateLimiter(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ok, _ := r.Allow(ctx, "toast", 1, 3*time.Second)
	assert.True(t, ok)
	ok, _ = r.Allow(ctx, "toast", 1, 3*time.Second)
	assert.False(t, ok)
	ok, _ = r.Allow(ctx, "other", 1, 3*time.Second)
	assert.True(t, ok)

	now = now.Add(3 * time.Second)
	ok, _ = r.Allow(ctx, "toast", 1, 3*time.Second)
	assert.True(t, ok)

	now = now.Add(time.Hour)
	r.Cleanup(3 * time.Second)
	assert.Empty(t, r.hits)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter(time.Hour)

	require.NoError(t, r.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx, "k"))
}

func TestLockManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewLockManager()

	unlock, err := m.Acquire(ctx, "ledger:default", time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "ledger:default", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := m.Acquire(ctx, "ledger:default", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockManager_Expires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewLockManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)

	_, err = m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// The expired holder must not release the new lease.
	stale()
	_, err = m.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewSignalBus()

	exact, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)
	wild, err := b.Subscribe(ctx, "pos*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "positions", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "prices", []byte("ignored")))

	assert.Equal(t, []byte("hello"), <-exact)
	assert.Equal(t, []byte("hello"), <-wild)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-exact
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestSignalBus_Stream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewSignalBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "positions:log", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "positions:log", "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1-0", all[0].ID)

	rest, err := b.StreamRead(ctx, "positions:log", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("b"), rest[0].Payload)

	none, err := b.StreamRead(ctx, "positions:log", "$", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/simledger/internal/domain"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []domain.PriceTick
	fail  string
}

func (s *recordingSink) HandleTick(_ context.Context, tick domain.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick.Ticker == s.fail {
		return errors.New("boom")
	}
	s.ticks = append(s.ticks, tick)
	return nil
}

func (s *recordingSink) prices() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.ticks))
	for _, t := range s.ticks {
		out[t.Ticker] = t.Price
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const body = `[
	{"id": "1", "symbol": "BTC", "binanceSymbol": "BTCUSDT", "lastPrice": "67500.25"},
	{"id": "2", "symbol": "ethusdt", "lastPrice": 3400.5},
	{"id": "3", "symbol": "DOGE", "binanceSymbol": "DOGEUSDT", "lastPrice": "0"},
	{"id": "4", "symbol": "SOL", "binanceSymbol": "SOLUSDT", "lastPrice": null}
]`

func TestPollKeysAndParsesPrices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := NewPoller(PollerConfig{URL: srv.URL}, sink, nil, discard())
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]float64{"BTCUSDT": 67500.25, "ETHUSDT": 3400.5}, sink.prices())
}

func TestPollSymbolFilterAndSinkErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	sink := &recordingSink{fail: "ETHUSDT"}
	p := NewPoller(PollerConfig{URL: srv.URL, Symbols: []string{"btcusdt", "ETHUSDT"}}, sink, nil, discard())
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]float64{"BTCUSDT": 67500.25}, sink.prices())
}

func TestPollHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPoller(PollerConfig{URL: srv.URL}, &recordingSink{}, nil, discard())
	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(PollerConfig{URL: srv.URL, Interval: 10 * time.Millisecond}, &recordingSink{}, nil, discard())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

package notify

import (
	"context"
	"encoding/json"
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

	"github.com/alanyoungcy/simledger/internal/cache/memory"
	"github.com/alanyoungcy/simledger/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, title+"|"+message)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingSender) Name() string { return "rec" }

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FilterAndErrors(t *testing.T) {
	t.Parallel()
	ok := &recordingSender{}
	bad := &recordingSender{fail: true}
	n := NewNotifier([]Sender{bad, ok}, []string{EventPositionClosed}, discard())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "t", "m"))
	assert.Empty(t, ok.messages())

	err := n.Notify(context.Background(), EventPositionClosed, "Closed", "BTCUSDT +20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"Closed|BTCUSDT +20"}, ok.messages())
}

func TestNotifier_FireIsAsync(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{fail: true}
	n := NewNotifier([]Sender{rec}, nil, discard())

	n.Fire(EventError, "Error", "insufficient funds")
	n.Wait()
	assert.Len(t, rec.messages(), 1)

	var nilNotifier *Notifier
	nilNotifier.Fire(EventError, "x", "y")
	nilNotifier.Wait()
}

func TestNotifier_Throttled(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, discard(), WithLimiter(memory.NewRateLimiter(time.Millisecond), time.Minute))
	ctx := context.Background()

	assert.True(t, n.Throttled(ctx, "targets:p1", EventTargetsCorrected, "Targets", "adjusted"))
	assert.False(t, n.Throttled(ctx, "targets:p1", EventTargetsCorrected, "Targets", "adjusted"))
	assert.True(t, n.Throttled(ctx, "targets:p2", EventTargetsCorrected, "Targets", "adjusted"))
	n.Wait()
	assert.Len(t, rec.messages(), 2)
}

func TestBusSender(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	ch, err := bus.Subscribe(ctx, domain.ChannelToasts)
	require.NoError(t, err)

	s := NewBusSender(bus)
	require.NoError(t, s.Send(ctx, "Opened", "BTCUSDT Long"))

	select {
	case raw := <-ch:
		var toast Toast
		require.NoError(t, json.Unmarshal(raw, &toast))
		assert.Equal(t, "Opened", toast.Title)
		assert.Equal(t, "BTCUSDT Long", toast.Message)
	case <-time.After(time.Second):
		t.Fatal("no toast published")
	}
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "closed", "pnl 20"))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "CLOSED\npnl 20", body["text"])
}

func TestDiscordSender_Status(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSender_Embed(t *testing.T) {
	t.Parallel()
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), "Position liquidated", "BTCUSDT Long (liquidation) pnl -100.00"))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Position liquidated", got.Embeds[0].Title)
	assert.Equal(t, colorLoss, got.Embeds[0].Color)
	assert.Equal(t, "2026-10-18T09:30:00Z", got.Embeds[0].Timestamp)
}

func TestEmbedColor(t *testing.T) {
	assert.Equal(t, colorGain, embedColor("Position closed", "ETHUSDT Short (tp) pnl +12.50 roe +25.00%"))
	assert.Equal(t, colorLoss, embedColor("Partial take profit", "SOLUSDT Long realized -3.00 on 50% (ladder)"))
	assert.Equal(t, colorNeutral, embedColor("Position opened", "BTCUSDT Long"))
}

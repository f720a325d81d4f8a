package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// TickSink receives every price the poller reads.
type TickSink interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) error
}

// Quote is one entry of the price endpoint response. LastPrice accepts both
// a JSON number and a decimal string.
type Quote struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	BinanceSymbol string          `json:"binanceSymbol"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
}

// Ticker is the key the quote is stored under.
func (q Quote) Ticker() string {
	if s := strings.TrimSpace(q.BinanceSymbol); s != "" {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(strings.TrimSpace(q.Symbol))
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// Symbols restricts the poller to these tickers. Empty means all.
	Symbols []string
}

// Poller fetches the price endpoint on an interval and forwards each quote
// to the sink. A failed poll is logged and retried on the next tick.
type Poller struct {
	cfg        PollerConfig
	allow      map[string]bool
	sink       TickSink
	limiter    domain.RateLimiter
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPoller creates a Poller. limiter may be nil; when set every request
// waits on the "feed" key first.
func NewPoller(cfg PollerConfig, sink TickSink, limiter domain.RateLimiter, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var allow map[string]bool
	if len(cfg.Symbols) > 0 {
		allow = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			allow[strings.ToUpper(strings.TrimSpace(s))] = true
		}
	}
	return &Poller{
		cfg:        cfg,
		allow:      allow,
		sink:       sink,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "feed_poller")),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.cfg.URL == "" {
		p.logger.Info("feed: no url configured, poller disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	p.logger.Info("feed: poller started",
		slog.String("url", p.cfg.URL),
		slog.Duration("interval", p.cfg.Interval),
	)
	defer p.logger.Info("feed: poller stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if n, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("feed: poll failed", slog.String("error", err.Error()))
		} else {
			p.logger.Debug("feed: poll complete", slog.Int("ticks", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch and returns how many ticks were accepted by the
// sink. Sink failures for one ticker do not stop the others.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, "feed"); err != nil {
			return 0, fmt.Errorf("feed: rate limit: %w", err)
		}
	}
	quotes, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	n := 0
	for _, q := range quotes {
		ticker := q.Ticker()
		if ticker == "" || (p.allow != nil && !p.allow[ticker]) {
			continue
		}
		price := q.LastPrice.InexactFloat64()
		if !(price > 0) {
			continue
		}
		if err := p.sink.HandleTick(ctx, domain.PriceTick{Ticker: ticker, Price: price, At: now}); err != nil {
			p.logger.Warn("feed: handle tick failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	return n, nil
}

func (p *Poller) fetch(ctx context.Context) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("feed: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quotes []Quote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("feed: decode response: %w", err)
	}
	return quotes, nil
}

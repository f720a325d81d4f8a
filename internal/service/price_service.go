package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/metrics"
)

// TickHandler reacts to a new mark price.
type TickHandler interface {
	OnPrice(ctx context.Context, ticker string, price float64, at time.Time) error
}

// PriceService records mark prices in the cache, publishes them on the
// prices channel and hands them to the trigger engine.
type PriceService struct {
	cache   domain.PriceCache
	bus     domain.SignalBus
	handler TickHandler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPriceService creates a PriceService. bus, handler and m may be nil.
func NewPriceService(cache domain.PriceCache, bus domain.SignalBus, handler TickHandler, m *metrics.Metrics, logger *slog.Logger) *PriceService {
	return &PriceService{
		cache:   cache,
		bus:     bus,
		handler: handler,
		metrics: m,
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// HandleTick stores tick, publishes it and runs the position triggers.
func (s *PriceService) HandleTick(ctx context.Context, tick domain.PriceTick) error {
	tick.Ticker = normalizeTicker(tick.Ticker)
	if tick.Ticker == "" || !(tick.Price > 0) {
		return fmt.Errorf("price_service: %w: tick %q at %v", domain.ErrInvalidOrder, tick.Ticker, tick.Price)
	}
	if tick.At.IsZero() {
		tick.At = time.Now().UTC()
	}
	if err := s.cache.SetPrice(ctx, tick.Ticker, tick.Price, tick.At); err != nil {
		return fmt.Errorf("price_service: set price for %q: %w", tick.Ticker, err)
	}
	s.metrics.PriceTick()

	if s.bus != nil {
		evt, _ := json.Marshal(tick)
		if err := s.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			s.logger.WarnContext(ctx, "price_service: publish price event failed",
				slog.String("ticker", tick.Ticker),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.handler != nil {
		if err := s.handler.OnPrice(ctx, tick.Ticker, tick.Price, tick.At); err != nil {
			return fmt.Errorf("price_service: triggers for %q: %w", tick.Ticker, err)
		}
	}
	return nil
}

// GetPrice returns the latest cached price for ticker.
func (s *PriceService) GetPrice(ctx context.Context, ticker string) (domain.PriceTick, error) {
	ticker = normalizeTicker(ticker)
	price, ts, err := s.cache.GetPrice(ctx, ticker)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("price_service: get price for %q: %w", ticker, err)
	}
	return domain.PriceTick{Ticker: ticker, Price: price, At: ts}, nil
}

// GetPrices returns the latest cached prices. Missing tickers are omitted.
func (s *PriceService) GetPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	norm := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = normalizeTicker(t); t != "" {
			norm = append(norm, t)
		}
	}
	prices, err := s.cache.GetPrices(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	return prices, nil
}

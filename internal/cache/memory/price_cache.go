// Package memory implements the domain cache interfaces in process. It is
// used when no Redis is configured and by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

type quote struct {
	price float64
	ts    time.Time
}

// PriceCache keeps the latest price per ticker.
type PriceCache struct {
	mu     sync.RWMutex
	quotes map[string]quote
}

// NewPriceCache creates an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{quotes: make(map[string]quote)}
}

// SetPrice stores price for ticker unless a newer observation is present.
func (c *PriceCache) SetPrice(_ context.Context, ticker string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.quotes[ticker]; ok && cur.ts.After(ts) {
		return nil
	}
	c.quotes[ticker] = quote{price: price, ts: ts}
	return nil
}

// GetPrice returns domain.ErrNotFound for an unknown ticker.
func (c *PriceCache) GetPrice(_ context.Context, ticker string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[ticker]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return q.price, q.ts, nil
}

// GetPrices omits unknown tickers from the result.
func (c *PriceCache) GetPrices(_ context.Context, tickers []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if q, ok := c.quotes[t]; ok {
			out[t] = q.price
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)

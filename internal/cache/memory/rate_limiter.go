package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// RateLimiter keeps a sliding window of hit times per key for Allow and a
// token bucket per key for Wait. It is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	buckets map[string]*rate.Limiter
	every   time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a RateLimiter whose Wait admits one call per
// waitEvery for each key.
func NewRateLimiter(waitEvery time.Duration) *RateLimiter {
	if waitEvery <= 0 {
		waitEvery = time.Second
	}
	return &RateLimiter{
		hits:    make(map[string][]time.Time),
		buckets: make(map[string]*rate.Limiter),
		every:   waitEvery,
		now:     time.Now,
	}
}

// Allow reports whether another hit for key fits in limit per window. An
// allowed hit is counted; a rejected one is not.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	kept := prune(r.hits[key], now.Add(-window))
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

// Wait blocks until key may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	r.mu.Lock()
	lim, ok := r.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.every), 1)
		r.buckets[key] = lim
	}
	r.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("memory: rate limit wait %s: %w", key, err)
	}
	return nil
}

// Cleanup drops keys with no hits newer than window. Call it periodically
// to bound memory.
func (r *RateLimiter) Cleanup(window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-window)
	for k, ts := range r.hits {
		kept := prune(ts, cutoff)
		if len(kept) == 0 {
			delete(r.hits, k)
			continue
		}
		r.hits[k] = kept
	}
}

// prune drops hits at or before cutoff. ts is sorted ascending.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// BalanceStore keeps one record per pool.
type BalanceStore struct {
	mu    sync.RWMutex
	pools map[domain.Pool]domain.BalanceRecord
}

// NewBalanceStore creates an empty BalanceStore.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{pools: make(map[domain.Pool]domain.BalanceRecord)}
}

func (s *BalanceStore) Get(_ context.Context, pool domain.Pool) (domain.BalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pools[pool]
	if !ok {
		return domain.BalanceRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *BalanceStore) Put(_ context.Context, rec domain.BalanceRecord) (domain.BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.pools[rec.Pool]
	if cur.Version != rec.Version {
		return domain.BalanceRecord{}, fmt.Errorf("memory: put balance %s at v%d (stored v%d): %w",
			rec.Pool, rec.Version, cur.Version, domain.ErrVersionConflict)
	}
	rec.Version++
	s.pools[rec.Pool] = rec
	return rec, nil
}

// StatsStore keeps the win/loss tally.
type StatsStore struct {
	mu    sync.Mutex
	stats domain.TradeStats
}

// NewStatsStore creates a zeroed StatsStore.
func NewStatsStore() *StatsStore { return &StatsStore{} }

func (s *StatsStore) Record(_ context.Context, win bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalTrades++
	if win {
		s.stats.TotalWins++
	}
	return nil
}

func (s *StatsStore) Get(_ context.Context) (domain.TradeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

// AuditStore keeps audit entries in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{now: time.Now} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

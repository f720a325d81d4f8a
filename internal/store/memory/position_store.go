// Package memory implements every store interface with maps guarded by a
// mutex. It backs tests and the "memory" storage backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.HistoryStore  = (*HistoryStore)(nil)
	_ domain.BalanceStore  = (*BalanceStore)(nil)
	_ domain.StatsStore    = (*StatsStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)

// New returns a fresh set of in-memory stores.
func New() domain.Stores {
	return domain.Stores{
		Positions: NewPositionStore(),
		History:   NewHistoryStore(),
		Balances:  NewBalanceStore(),
		Stats:     NewStatsStore(),
		Audit:     NewAuditStore(),
	}
}

// closedKeep bounds how many closed positions stay addressable.
const closedKeep = 1000

// PositionStore keeps positions by id, including the most recent closed
// ones.
type PositionStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.Position
	closed []string // oldest first
	keep   int
	now    func() time.Time
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{byID: make(map[string]domain.Position), keep: closedKeep, now: time.Now}
}

// Create inserts pos with version 1.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[pos.ID]; ok {
		return domain.Position{}, fmt.Errorf("memory: create position %q: %w", pos.ID, domain.ErrAlreadyExists)
	}
	pos = pos.Clone()
	pos.Version = 1
	pos.UpdatedAt = s.now().UTC()
	s.byID[pos.ID] = pos
	return pos.Clone(), nil
}

// Update replaces pos when its version matches the stored one.
func (s *PositionStore) Update(_ context.Context, pos domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[pos.ID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if cur.Version != pos.Version {
		return domain.Position{}, fmt.Errorf("memory: update position %q at v%d (stored v%d): %w",
			pos.ID, pos.Version, cur.Version, domain.ErrVersionConflict)
	}
	pos = pos.Clone()
	pos.Version++
	pos.UpdatedAt = s.now().UTC()
	s.byID[pos.ID] = pos
	return pos.Clone(), nil
}

// MarkClosed sets the position status to closed.
func (s *PositionStore) MarkClosed(_ context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.IsClosed() {
		return domain.ErrPositionClosed
	}
	if cur.Version != version {
		return fmt.Errorf("memory: close position %q: %w", id, domain.ErrVersionConflict)
	}
	cur.Status = domain.StatusClosed
	cur.Version++
	cur.UpdatedAt = s.now().UTC()
	s.byID[id] = cur

	s.closed = append(s.closed, id)
	if over := len(s.closed) - s.keep; over > 0 {
		for _, old := range s.closed[:over] {
			delete(s.byID, old)
		}
		s.closed = append(s.closed[:0:0], s.closed[over:]...)
	}
	return nil
}

// Delete removes the position.
func (s *PositionStore) Delete(_ context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != version {
		return fmt.Errorf("memory: delete position %q: %w", id, domain.ErrVersionConflict)
	}
	delete(s.byID, id)
	return nil
}

// GetByID returns a copy of the stored position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

// ListOpen returns pending and active positions, oldest first.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0, len(s.byID))
	for _, p := range s.byID {
		if !p.IsClosed() {
			out = append(out, p.Clone())
		}
	}
	sortPositions(out)
	return out, nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenTimestamp.Equal(ps[j].OpenTimestamp) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenTimestamp.Before(ps[j].OpenTimestamp)
	})
}

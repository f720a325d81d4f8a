package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// HistoryStore keeps closed signals in insertion order.
type HistoryStore struct {
	mu      sync.RWMutex
	entries []domain.ClosedSignal
	ids     map[string]struct{}
}

// NewHistoryStore creates an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{ids: make(map[string]struct{})}
}

// Append adds c to the history.
func (s *HistoryStore) Append(_ context.Context, c domain.ClosedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[c.ID]; dup {
		return fmt.Errorf("memory: append history %q: %w", c.ID, domain.ErrAlreadyExists)
	}
	c.Position = c.Position.Clone()
	s.entries = append(s.entries, c)
	s.ids[c.ID] = struct{}{}
	return nil
}

// List returns entries newest first.
func (s *HistoryStore) List(_ context.Context, opts domain.ListOpts) ([]domain.ClosedSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ClosedSignal
	for _, c := range s.entries {
		if !matchHistory(c, opts) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseTimestamp.After(out[j].CloseTimestamp)
	})
	return paginate(out, opts), nil
}

// ListBefore returns entries closed before cutoff, oldest first.
func (s *HistoryStore) ListBefore(_ context.Context, before time.Time) ([]domain.ClosedSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ClosedSignal
	for _, c := range s.entries {
		if c.CloseTimestamp.Before(before) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseTimestamp.Before(out[j].CloseTimestamp)
	})
	return out, nil
}

// Clear removes entries for mode, or all entries when mode is empty.
func (s *HistoryStore) Clear(_ context.Context, mode domain.PositionMode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0:0]
	var removed int64
	for _, c := range s.entries {
		if mode == "" || c.PositionMode == mode {
			delete(s.ids, c.ID)
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.entries = kept
	return removed, nil
}

func matchHistory(c domain.ClosedSignal, opts domain.ListOpts) bool {
	if opts.Mode != "" && c.PositionMode != opts.Mode {
		return false
	}
	if opts.Since != nil && c.CloseTimestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !c.CloseTimestamp.Before(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// HistoryStore keeps closed signals in the "history" blob, newest first as
// older clients wrote them.
type HistoryStore struct {
	d *DB
}

// NewHistoryStore creates a HistoryStore on d.
func NewHistoryStore(d *DB) *HistoryStore { return &HistoryStore{d: d} }

func (s *HistoryStore) load(ctx context.Context, q querier) ([]domain.ClosedSignal, error) {
	raw, _, _, err := s.d.read(ctx, q, keyHistory)
	if err != nil {
		return nil, err
	}
	return decodeList(raw, storedClosed.toDomain, func(err error) { s.d.malformed(ctx, keyHistory, err) }), nil
}

func (s *HistoryStore) save(ctx context.Context, q querier, hs []domain.ClosedSignal) error {
	if hs == nil {
		hs = []domain.ClosedSignal{}
	}
	raw, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("sqlite: encode history: %w", err)
	}
	_, err = s.d.write(ctx, q, keyHistory, raw)
	return err
}

func (s *HistoryStore) Append(ctx context.Context, c domain.ClosedSignal) error {
	return s.d.tx(ctx, func(tx *sql.Tx) error {
		hs, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		for _, h := range hs {
			if h.ID == c.ID {
				return fmt.Errorf("sqlite: append history %q: %w", c.ID, domain.ErrAlreadyExists)
			}
		}
		return s.save(ctx, tx, append([]domain.ClosedSignal{c}, hs...))
	})
}

func (s *HistoryStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedSignal, error) {
	hs, err := s.load(ctx, s.d.db)
	if err != nil {
		return nil, err
	}
	out := hs[:0]
	for _, h := range hs {
		if opts.Mode != "" && h.PositionMode != opts.Mode {
			continue
		}
		if opts.Since != nil && h.CloseTimestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !h.CloseTimestamp.Before(*opts.Until) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTimestamp.After(out[j].CloseTimestamp) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedSignal, error) {
	hs, err := s.load(ctx, s.d.db)
	if err != nil {
		return nil, err
	}
	var out []domain.ClosedSignal
	for _, h := range hs {
		if h.CloseTimestamp.Before(before) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTimestamp.Before(out[j].CloseTimestamp) })
	return out, nil
}

func (s *HistoryStore) Clear(ctx context.Context, mode domain.PositionMode) (int64, error) {
	var removed int64
	err := s.d.tx(ctx, func(tx *sql.Tx) error {
		hs, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		kept := make([]domain.ClosedSignal, 0, len(hs))
		for _, h := range hs {
			if mode == "" || h.PositionMode == mode {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		return s.save(ctx, tx, kept)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)

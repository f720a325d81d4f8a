package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// closedKeep bounds how many closed position records stay addressable.
const closedKeep = 1000

// PositionStore keeps open positions in the "positions" blob and the most
// recent closed ones in "positions:closed".
type PositionStore struct {
	d *DB
}

// NewPositionStore creates a PositionStore on d.
func NewPositionStore(d *DB) *PositionStore { return &PositionStore{d: d} }

func (s *PositionStore) load(ctx context.Context, q querier, key string) ([]domain.Position, error) {
	raw, _, _, err := s.d.read(ctx, q, key)
	if err != nil {
		return nil, err
	}
	return decodeList(raw, storedPosition.toDomain, func(err error) { s.d.malformed(ctx, key, err) }), nil
}

func (s *PositionStore) save(ctx context.Context, q querier, key string, ps []domain.Position) error {
	if ps == nil {
		ps = []domain.Position{}
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", key, err)
	}
	_, err = s.d.write(ctx, q, key, raw)
	return err
}

// mutate loads the open set, applies fn and saves it in one transaction.
func (s *PositionStore) mutate(ctx context.Context, fn func(tx *sql.Tx, open []domain.Position) ([]domain.Position, error)) error {
	return s.d.tx(ctx, func(tx *sql.Tx) error {
		open, err := s.load(ctx, tx, keyPositions)
		if err != nil {
			return err
		}
		next, err := fn(tx, open)
		if err != nil {
			return err
		}
		return s.save(ctx, tx, keyPositions, next)
	})
}

func (s *PositionStore) Create(ctx context.Context, pos domain.Position) (domain.Position, error) {
	pos = pos.Clone()
	pos.Version = 1
	pos.UpdatedAt = s.d.now().UTC()
	err := s.mutate(ctx, func(_ *sql.Tx, open []domain.Position) ([]domain.Position, error) {
		if indexOf(open, pos.ID) >= 0 {
			return nil, fmt.Errorf("sqlite: create position %q: %w", pos.ID, domain.ErrAlreadyExists)
		}
		return append(open, pos), nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

func (s *PositionStore) Update(ctx context.Context, pos domain.Position) (domain.Position, error) {
	var saved domain.Position
	err := s.mutate(ctx, func(_ *sql.Tx, open []domain.Position) ([]domain.Position, error) {
		i := indexOf(open, pos.ID)
		if i < 0 {
			return nil, domain.ErrNotFound
		}
		if open[i].Version != pos.Version {
			return nil, fmt.Errorf("sqlite: update position %q at v%d (stored v%d): %w",
				pos.ID, pos.Version, open[i].Version, domain.ErrVersionConflict)
		}
		saved = pos.Clone()
		saved.Version++
		saved.UpdatedAt = s.d.now().UTC()
		open[i] = saved
		return open, nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return saved, nil
}

func (s *PositionStore) MarkClosed(ctx context.Context, id string, version int64) error {
	return s.mutate(ctx, func(tx *sql.Tx, open []domain.Position) ([]domain.Position, error) {
		i := indexOf(open, id)
		if i < 0 {
			closed, err := s.load(ctx, tx, keyClosedPositions)
			if err != nil {
				return nil, err
			}
			if indexOf(closed, id) >= 0 {
				return nil, domain.ErrPositionClosed
			}
			return nil, domain.ErrNotFound
		}
		if open[i].Version != version {
			return nil, fmt.Errorf("sqlite: close position %q: %w", id, domain.ErrVersionConflict)
		}
		p := open[i]
		p.Status = domain.StatusClosed
		p.Version++
		p.UpdatedAt = s.d.now().UTC()

		closed, err := s.load(ctx, tx, keyClosedPositions)
		if err != nil {
			return nil, err
		}
		closed = append(closed, p)
		if over := len(closed) - closedKeep; over > 0 {
			closed = closed[over:]
		}
		if err := s.save(ctx, tx, keyClosedPositions, closed); err != nil {
			return nil, err
		}
		return append(open[:i], open[i+1:]...), nil
	})
}

func (s *PositionStore) Delete(ctx context.Context, id string, version int64) error {
	return s.mutate(ctx, func(_ *sql.Tx, open []domain.Position) ([]domain.Position, error) {
		i := indexOf(open, id)
		if i < 0 {
			return nil, domain.ErrNotFound
		}
		if open[i].Version != version {
			return nil, fmt.Errorf("sqlite: delete position %q: %w", id, domain.ErrVersionConflict)
		}
		return append(open[:i], open[i+1:]...), nil
	})
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	for _, key := range []string{keyPositions, keyClosedPositions} {
		ps, err := s.load(ctx, s.d.db, key)
		if err != nil {
			return domain.Position{}, err
		}
		if i := indexOf(ps, id); i >= 0 {
			return ps[i], nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	ps, err := s.load(ctx, s.d.db, keyPositions)
	if err != nil {
		return nil, err
	}
	out := ps[:0]
	for _, p := range ps {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTimestamp.Before(out[j].OpenTimestamp) })
	return out, nil
}

func indexOf(ps []domain.Position, id string) int {
	for i := range ps {
		if ps[i].ID == id {
			return i
		}
	}
	return -1
}

var _ domain.PositionStore = (*PositionStore)(nil)

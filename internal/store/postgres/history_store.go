package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// HistoryStore keeps closed signals in closed_signals. The position as it
// was at close time lives in the snapshot column.
type HistoryStore struct {
	pool    *pgxpool.Pool
	account string
}

// NewHistoryStore creates a HistoryStore for account.
func NewHistoryStore(pool *pgxpool.Pool, account string) *HistoryStore {
	return &HistoryStore{pool: pool, account: account}
}

const historySelectCols = `id, position_id, snapshot, close_price, pnl, roe, reason, close_timestamp`

func (s *HistoryStore) Append(ctx context.Context, c domain.ClosedSignal) error {
	snapshot, err := json.Marshal(c.Position)
	if err != nil {
		return fmt.Errorf("postgres: encode closed signal %s: %w", c.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO closed_signals (
			account, id, position_id, position_mode, snapshot,
			close_price, pnl, roe, reason, close_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.account, c.ID, c.PositionID, string(c.PositionMode), snapshot,
		c.ClosePrice, c.PnL, c.ROE, string(c.Reason), c.CloseTimestamp,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres: append closed signal %s: %w", c.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: append closed signal %s: %w", c.ID, err)
	}
	return nil
}

// List returns entries newest first.
func (s *HistoryStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedSignal, error) {
	q := newQuery(`SELECT ` + historySelectCols + ` FROM closed_signals`)
	q.and("account = %s", s.account)
	if opts.Mode != "" {
		q.and("position_mode = %s", string(opts.Mode))
	}
	if opts.Since != nil {
		q.and("close_timestamp >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.and("close_timestamp <= %s", *opts.Until)
	}
	return s.query(ctx, q.build("close_timestamp DESC, id DESC", opts.Limit, opts.Offset), q.args)
}

// ListBefore returns entries closed strictly before t, oldest first.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedSignal, error) {
	q := newQuery(`SELECT ` + historySelectCols + ` FROM closed_signals`)
	q.and("account = %s", s.account)
	q.and("close_timestamp < %s", before)
	return s.query(ctx, q.build("close_timestamp, id", 0, 0), q.args)
}

func (s *HistoryStore) Clear(ctx context.Context, mode domain.PositionMode) (int64, error) {
	q := newQuery(`DELETE FROM closed_signals`)
	q.and("account = %s", s.account)
	if mode != "" {
		q.and("position_mode = %s", string(mode))
	}
	tag, err := s.pool.Exec(ctx, q.build("", 0, 0), q.args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: clear history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *HistoryStore) query(ctx context.Context, sql string, args []any) ([]domain.ClosedSignal, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedSignal
	for rows.Next() {
		var (
			c        domain.ClosedSignal
			snapshot []byte
			reason   string
		)
		if err := rows.Scan(&c.ID, &c.PositionID, &snapshot, &c.ClosePrice, &c.PnL, &c.ROE, &reason, &c.CloseTimestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan closed signal: %w", err)
		}
		if err := json.Unmarshal(snapshot, &c.Position); err != nil {
			return nil, fmt.Errorf("%w: closed signal %s snapshot: %v", domain.ErrMalformedStoredData, c.ID, err)
		}
		c.Reason = domain.CloseReason(reason)
		c.Status = domain.StatusClosed
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ domain.HistoryStore = (*HistoryStore)(nil)

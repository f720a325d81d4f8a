package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool    *pgxpool.Pool
	account string
}

// NewPositionStore creates a PositionStore for account.
func NewPositionStore(pool *pgxpool.Pool, account string) *PositionStore {
	return &PositionStore{pool: pool, account: account}
}

const positionSelectCols = `id, trade_type, ticker, leverage, risk, margin,
	entry_price, mark_price, position_mode, status, order_type, open_timestamp,
	take_profit, stop_loss, take_profit_targets, targets_hit,
	sell_half_on_doubling, half_sold, realized_pnl, read_only, version, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                                  domain.Position
		tradeType, mode, status, orderType string
		targets                            []byte
	)
	err := row.Scan(
		&p.ID, &tradeType, &p.Ticker, &p.Leverage, &p.Risk, &p.Margin,
		&p.EntryPrice, &p.MarkPrice, &mode, &status, &orderType, &p.OpenTimestamp,
		&p.TakeProfit, &p.StopLoss, &targets, &p.TargetsHit,
		&p.SellHalfOnDoubling, &p.HalfSold, &p.RealizedPnL, &p.ReadOnly, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.TradeType = domain.TradeType(tradeType)
	p.PositionMode = domain.PositionMode(mode)
	p.Status = domain.PositionStatus(status)
	p.OrderType = domain.OrderType(orderType)
	if len(targets) > 0 {
		if err := json.Unmarshal(targets, &p.TakeProfitTargets); err != nil {
			return domain.Position{}, fmt.Errorf("%w: position %s targets: %v", domain.ErrMalformedStoredData, p.ID, err)
		}
	}
	return p, nil
}

func encodeTargets(ts []domain.TakeProfitTarget) ([]byte, error) {
	if ts == nil {
		ts = []domain.TakeProfitTarget{}
	}
	return json.Marshal(ts)
}

// Create inserts pos at version 1.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) (domain.Position, error) {
	targets, err := encodeTargets(pos.TakeProfitTargets)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: encode targets %s: %w", pos.ID, err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO positions (
			account, id, trade_type, ticker, leverage, risk, margin,
			entry_price, mark_price, position_mode, status, order_type, open_timestamp,
			take_profit, stop_loss, take_profit_targets, targets_hit,
			sell_half_on_doubling, half_sold, realized_pnl, read_only, version, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, 1, NOW()
		)
		ON CONFLICT (account, id) DO NOTHING
		RETURNING `+positionSelectCols,
		s.account, pos.ID, string(pos.TradeType), pos.Ticker, pos.Leverage, pos.Risk, pos.Margin,
		pos.EntryPrice, pos.MarkPrice, string(pos.PositionMode), string(pos.Status), string(pos.OrderType), pos.OpenTimestamp,
		pos.TakeProfit, pos.StopLoss, targets, pos.TargetsHit,
		pos.SellHalfOnDoubling, pos.HalfSold, pos.RealizedPnL, pos.ReadOnly,
	)
	saved, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: create position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return saved, nil
}

// Update writes pos when the stored version still equals pos.Version.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) (domain.Position, error) {
	targets, err := encodeTargets(pos.TakeProfitTargets)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: encode targets %s: %w", pos.ID, err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE positions SET
			leverage              = $4,
			margin                = $5,
			entry_price           = $6,
			mark_price            = $7,
			status                = $8,
			take_profit           = $9,
			stop_loss             = $10,
			take_profit_targets   = $11,
			targets_hit           = $12,
			sell_half_on_doubling = $13,
			half_sold             = $14,
			realized_pnl          = $15,
			version               = version + 1,
			updated_at            = NOW()
		WHERE account = $1 AND id = $2 AND version = $3 AND status <> 'closed'
		RETURNING `+positionSelectCols,
		s.account, pos.ID, pos.Version,
		pos.Leverage, pos.Margin, pos.EntryPrice, pos.MarkPrice, string(pos.Status),
		pos.TakeProfit, pos.StopLoss, targets, pos.TargetsHit,
		pos.SellHalfOnDoubling, pos.HalfSold, pos.RealizedPnL,
	)
	saved, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, s.missOrConflict(ctx, pos.ID, "update")
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}
	return saved, nil
}

// MarkClosed flips status to closed exactly once.
func (s *PositionStore) MarkClosed(ctx context.Context, id string, version int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET status = 'closed', version = version + 1, updated_at = NOW()
		WHERE account = $1 AND id = $2 AND version = $3 AND status <> 'closed'`,
		s.account, id, version,
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id, "close")
	}
	return nil
}

// Delete removes a position.
func (s *PositionStore) Delete(ctx context.Context, id string, version int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE account = $1 AND id = $2 AND version = $3`,
		s.account, id, version,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, id, "delete")
	}
	return nil
}

// missOrConflict explains why a guarded write touched no row.
func (s *PositionStore) missOrConflict(ctx context.Context, id, op string) error {
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cur.IsClosed() {
		return domain.ErrPositionClosed
	}
	return fmt.Errorf("postgres: %s position %s: %w", op, id, domain.ErrVersionConflict)
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account = $1 AND id = $2`, s.account, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account = $1 AND status <> 'closed'
		 ORDER BY open_timestamp, id`, s.account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// BalanceStore implements domain.BalanceStore on the balances table.
// NUMERIC columns round-trip as text so no precision is lost.
type BalanceStore struct {
	pool    *pgxpool.Pool
	account string
}

// NewBalanceStore creates a BalanceStore for account.
func NewBalanceStore(pool *pgxpool.Pool, account string) *BalanceStore {
	return &BalanceStore{pool: pool, account: account}
}

const balanceSelectCols = `balance::text, locked::text, version, updated_at`

func scanBalance(row pgx.Row, pool domain.Pool) (domain.BalanceRecord, error) {
	var (
		rec             domain.BalanceRecord
		balance, locked string
	)
	if err := row.Scan(&balance, &locked, &rec.Version, &rec.UpdatedAt); err != nil {
		return domain.BalanceRecord{}, err
	}
	var err error
	if rec.Balance, err = decimal.NewFromString(balance); err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("%w: balance %q", domain.ErrMalformedStoredData, balance)
	}
	if rec.Locked, err = decimal.NewFromString(locked); err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("%w: locked %q", domain.ErrMalformedStoredData, locked)
	}
	rec.Pool = pool
	return rec, nil
}

func (s *BalanceStore) Get(ctx context.Context, pool domain.Pool) (domain.BalanceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+balanceSelectCols+` FROM balances WHERE account = $1 AND pool = $2`,
		s.account, string(pool))
	rec, err := scanBalance(row, pool)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BalanceRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("postgres: get balance %s: %w", pool, err)
	}
	return rec, nil
}

// Put inserts the pool when rec.Version is 0 and otherwise updates it under
// a version guard.
func (s *BalanceStore) Put(ctx context.Context, rec domain.BalanceRecord) (domain.BalanceRecord, error) {
	var row pgx.Row
	if rec.Version == 0 {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO balances (account, pool, balance, locked, version, updated_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, 1, NOW())
			ON CONFLICT (account, pool) DO NOTHING
			RETURNING `+balanceSelectCols,
			s.account, string(rec.Pool), rec.Balance.String(), rec.Locked.String())
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE balances SET
				balance    = $4::numeric,
				locked     = $5::numeric,
				version    = version + 1,
				updated_at = NOW()
			WHERE account = $1 AND pool = $2 AND version = $3
			RETURNING `+balanceSelectCols,
			s.account, string(rec.Pool), rec.Version, rec.Balance.String(), rec.Locked.String())
	}
	saved, err := scanBalance(row, rec.Pool)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BalanceRecord{}, fmt.Errorf("postgres: put balance %s at v%d: %w", rec.Pool, rec.Version, domain.ErrVersionConflict)
	}
	if err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("postgres: put balance %s: %w", rec.Pool, err)
	}
	return saved, nil
}

// StatsStore implements domain.StatsStore on trade_stats.
type StatsStore struct {
	pool    *pgxpool.Pool
	account string
}

// NewStatsStore creates a StatsStore for account.
func NewStatsStore(pool *pgxpool.Pool, account string) *StatsStore {
	return &StatsStore{pool: pool, account: account}
}

func (s *StatsStore) Record(ctx context.Context, win bool) error {
	wins := 0
	if win {
		wins = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_stats (account, total_trades, total_wins) VALUES ($1, 1, $2)
		ON CONFLICT (account) DO UPDATE SET
			total_trades = trade_stats.total_trades + 1,
			total_wins   = trade_stats.total_wins + EXCLUDED.total_wins`,
		s.account, wins)
	if err != nil {
		return fmt.Errorf("postgres: record trade: %w", err)
	}
	return nil
}

func (s *StatsStore) Get(ctx context.Context) (domain.TradeStats, error) {
	var st domain.TradeStats
	err := s.pool.QueryRow(ctx,
		`SELECT total_trades, total_wins FROM trade_stats WHERE account = $1`, s.account,
	).Scan(&st.TotalTrades, &st.TotalWins)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeStats{}, nil
	}
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("postgres: get trade stats: %w", err)
	}
	return st, nil
}

var (
	_ domain.BalanceStore = (*BalanceStore)(nil)
	_ domain.StatsStore   = (*StatsStore)(nil)
)

package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// BalanceStore keeps each pool under "balance:{pool}". The row version is
// the record version.
type BalanceStore struct {
	d *DB
}

// NewBalanceStore creates a BalanceStore on d.
func NewBalanceStore(d *DB) *BalanceStore { return &BalanceStore{d: d} }

// Get returns domain.ErrNotFound for a pool never written. A corrupt row is
// logged and dropped so the caller falls back to the pool default.
func (s *BalanceStore) Get(ctx context.Context, pool domain.Pool) (domain.BalanceRecord, error) {
	key := balanceKey(pool)
	raw, version, found, err := s.d.read(ctx, s.d.db, key)
	if err != nil {
		return domain.BalanceRecord{}, err
	}
	if !found {
		return domain.BalanceRecord{}, domain.ErrNotFound
	}
	rec, err := decodeBalance(raw)
	if err != nil {
		s.d.malformed(ctx, key, err)
		if err := s.d.remove(ctx, s.d.db, key); err != nil {
			return domain.BalanceRecord{}, err
		}
		return domain.BalanceRecord{}, domain.ErrNotFound
	}
	rec.Pool = pool
	rec.Version = version
	return rec, nil
}

func (s *BalanceStore) Put(ctx context.Context, rec domain.BalanceRecord) (domain.BalanceRecord, error) {
	key := balanceKey(rec.Pool)
	raw, err := json.Marshal(storedBalance{Balance: rec.Balance.String(), Locked: rec.Locked.String()})
	if err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("sqlite: encode %s: %w", key, err)
	}
	err = s.d.tx(ctx, func(tx *sql.Tx) error {
		_, cur, _, err := s.d.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != rec.Version {
			return fmt.Errorf("sqlite: put %s at v%d (stored v%d): %w", key, rec.Version, cur, domain.ErrVersionConflict)
		}
		rec.Version, err = s.d.write(ctx, tx, key, raw)
		return err
	})
	if err != nil {
		return domain.BalanceRecord{}, err
	}
	return rec, nil
}

func decodeBalance(raw []byte) (domain.BalanceRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var sb storedBalance
		if err := json.Unmarshal(raw, &sb); err != nil {
			return domain.BalanceRecord{}, fmt.Errorf("%w: %v", domain.ErrMalformedStoredData, err)
		}
		bal, err := decimal.NewFromString(sb.Balance)
		if err != nil {
			return domain.BalanceRecord{}, fmt.Errorf("%w: balance %q", domain.ErrMalformedStoredData, sb.Balance)
		}
		locked := decimal.Zero
		if sb.Locked != "" {
			if locked, err = decimal.NewFromString(sb.Locked); err != nil {
				return domain.BalanceRecord{}, fmt.Errorf("%w: locked %q", domain.ErrMalformedStoredData, sb.Locked)
			}
		}
		return domain.BalanceRecord{Balance: bal, Locked: locked}, nil
	}
	// Bare number, optionally quoted.
	s := strings.Trim(string(raw), `"`)
	bal, err := decimal.NewFromString(s)
	if err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("%w: balance %q", domain.ErrMalformedStoredData, s)
	}
	return domain.BalanceRecord{Balance: bal, Locked: decimal.Zero}, nil
}

// StatsStore keeps the tally as two integer strings.
type StatsStore struct {
	d *DB
}

// NewStatsStore creates a StatsStore on d.
func NewStatsStore(d *DB) *StatsStore { return &StatsStore{d: d} }

func (s *StatsStore) Record(ctx context.Context, win bool) error {
	return s.d.tx(ctx, func(tx *sql.Tx) error {
		if err := s.incr(ctx, tx, keyStatsTrades); err != nil {
			return err
		}
		if win {
			return s.incr(ctx, tx, keyStatsWins)
		}
		return nil
	})
}

func (s *StatsStore) Get(ctx context.Context) (domain.TradeStats, error) {
	trades, err := s.count(ctx, s.d.db, keyStatsTrades)
	if err != nil {
		return domain.TradeStats{}, err
	}
	wins, err := s.count(ctx, s.d.db, keyStatsWins)
	if err != nil {
		return domain.TradeStats{}, err
	}
	if wins > trades {
		wins = trades
	}
	return domain.TradeStats{TotalTrades: trades, TotalWins: wins}, nil
}

func (s *StatsStore) incr(ctx context.Context, q querier, key string) error {
	n, err := s.count(ctx, q, key)
	if err != nil {
		return err
	}
	_, err = s.d.write(ctx, q, key, []byte(strconv.FormatInt(n+1, 10)))
	return err
}

// count parses a stored counter, treating a missing or corrupt value as 0.
func (s *StatsStore) count(ctx context.Context, q querier, key string) (int64, error) {
	raw, _, found, err := s.d.read(ctx, q, key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(string(raw)), `"`), 10, 64)
	if err != nil || n < 0 {
		s.d.malformed(ctx, key, fmt.Errorf("%w: counter %q", domain.ErrMalformedStoredData, raw))
		return 0, nil
	}
	return n, nil
}

var (
	_ domain.BalanceStore = (*BalanceStore)(nil)
	_ domain.StatsStore   = (*StatsStore)(nil)
)

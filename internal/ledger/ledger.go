// Package ledger keeps the spot and futures cash pools.
//
// Spot is plain cash: opening a position debits the margin and closing it
// credits margin plus pnl. Futures keeps a wallet balance and the margin
// locked by open positions: opening locks the margin, closing releases the
// lock and credits pnl to the wallet. In both pools the amount available for
// new positions moves by exactly -margin on open and +margin+pnl on close.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/simledger/internal/domain"
)

const maxCASRetries = 5

// Defaults are the starting balances a pool receives on first use.
type Defaults struct {
	Spot    float64
	Futures float64
}

// Ledger applies balance movements through a BalanceStore.
type Ledger struct {
	store    domain.BalanceStore
	defaults map[domain.Pool]decimal.Decimal
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Ledger.
func New(store domain.BalanceStore, defaults Defaults, logger *slog.Logger) *Ledger {
	return &Ledger{
		store: store,
		defaults: map[domain.Pool]decimal.Decimal{
			domain.PoolSpot:    decimal.NewFromFloat(defaults.Spot),
			domain.PoolFutures: decimal.NewFromFloat(defaults.Futures),
		},
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Get returns the pool record, materializing the default on first use.
func (l *Ledger) Get(ctx context.Context, pool domain.Pool) (domain.BalanceRecord, error) {
	if !pool.Valid() {
		return domain.BalanceRecord{}, fmt.Errorf("ledger: unknown pool %q", pool)
	}
	rec, err := l.store.Get(ctx, pool)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.BalanceRecord{Pool: pool, Balance: l.defaults[pool]}, nil
	}
	if err != nil {
		return domain.BalanceRecord{}, fmt.Errorf("ledger: get %s: %w", pool, err)
	}
	return rec, nil
}

// Snapshots returns every pool in display order.
func (l *Ledger) Snapshots(ctx context.Context) ([]domain.BalanceSnapshot, error) {
	out := make([]domain.BalanceSnapshot, 0, len(domain.Pools))
	for _, p := range domain.Pools {
		rec, err := l.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Snapshot())
	}
	return out, nil
}

// Available returns the amount that can be committed in pool.
func (l *Ledger) Available(ctx context.Context, pool domain.Pool) (float64, error) {
	rec, err := l.Get(ctx, pool)
	if err != nil {
		return 0, err
	}
	return rec.Available().InexactFloat64(), nil
}

// Debit commits margin to a new position. It fails with
// domain.ErrInsufficientFunds when margin exceeds the available amount.
func (l *Ledger) Debit(ctx context.Context, pool domain.Pool, margin float64) (domain.BalanceSnapshot, error) {
	m := decimal.NewFromFloat(margin)
	return l.apply(ctx, pool, "debit", func(rec *domain.BalanceRecord) error {
		if m.GreaterThan(rec.Available()) {
			return fmt.Errorf("%w: need %s, available %s", domain.ErrInsufficientFunds,
				m.StringFixed(2), rec.Available().StringFixed(2))
		}
		if pool == domain.PoolFutures {
			rec.Locked = rec.Locked.Add(m)
		} else {
			rec.Balance = rec.Balance.Sub(m)
		}
		return nil
	})
}

// Refund returns the margin of a cancelled pending position.
func (l *Ledger) Refund(ctx context.Context, pool domain.Pool, margin float64) (domain.BalanceSnapshot, error) {
	m := decimal.NewFromFloat(margin)
	return l.apply(ctx, pool, "refund", func(rec *domain.BalanceRecord) error {
		if pool == domain.PoolFutures {
			rec.Locked = floorZero(rec.Locked.Sub(m))
		} else {
			rec.Balance = rec.Balance.Add(m)
		}
		return nil
	})
}

// Settle releases margin and realizes pnl.
func (l *Ledger) Settle(ctx context.Context, pool domain.Pool, margin, pnl float64) (domain.BalanceSnapshot, error) {
	return l.apply(ctx, pool, "settle", func(rec *domain.BalanceRecord) error {
		settle(rec, pool, decimal.NewFromFloat(margin), decimal.NewFromFloat(pnl))
		return nil
	})
}

// Project returns the balance Settle would produce without writing it.
func (l *Ledger) Project(ctx context.Context, pool domain.Pool, margin, pnl float64) (domain.BalanceSnapshot, error) {
	rec, err := l.Get(ctx, pool)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	settle(&rec, pool, decimal.NewFromFloat(margin), decimal.NewFromFloat(pnl))
	return rec.Snapshot(), nil
}

// Reset restores pool to its default balance and clears any lock.
func (l *Ledger) Reset(ctx context.Context, pool domain.Pool) (domain.BalanceSnapshot, error) {
	return l.apply(ctx, pool, "reset", func(rec *domain.BalanceRecord) error {
		rec.Balance = l.defaults[pool]
		rec.Locked = decimal.Zero
		return nil
	})
}

func settle(rec *domain.BalanceRecord, pool domain.Pool, margin, pnl decimal.Decimal) {
	if pool == domain.PoolFutures {
		rec.Locked = floorZero(rec.Locked.Sub(margin))
		rec.Balance = rec.Balance.Add(pnl)
		return
	}
	rec.Balance = rec.Balance.Add(margin).Add(pnl)
}

// apply runs fn against the latest record and writes it back, retrying when
// another writer got there first.
func (l *Ledger) apply(ctx context.Context, pool domain.Pool, op string, fn func(*domain.BalanceRecord) error) (domain.BalanceSnapshot, error) {
	for attempt := 0; ; attempt++ {
		rec, err := l.Get(ctx, pool)
		if err != nil {
			return domain.BalanceSnapshot{}, err
		}
		if err := fn(&rec); err != nil {
			return domain.BalanceSnapshot{}, err
		}
		rec.UpdatedAt = l.now().UTC()
		saved, err := l.store.Put(ctx, rec)
		if err == nil {
			l.logger.DebugContext(ctx, "ledger: "+op,
				slog.String("pool", string(pool)),
				slog.String("balance", saved.Balance.StringFixed(2)),
				slog.String("locked", saved.Locked.StringFixed(2)),
			)
			return saved.Snapshot(), nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt+1 >= maxCASRetries {
			return domain.BalanceSnapshot{}, fmt.Errorf("ledger: %s %s: %w", op, pool, err)
		}
		l.logger.WarnContext(ctx, "ledger: version conflict, retrying",
			slog.String("pool", string(pool)),
			slog.Int("attempt", attempt+1),
		)
	}
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Mode   PositionMode
}

// PositionStore persists the open and pending position set for one account.
// Writes compare-and-swap on Position.Version.
type PositionStore interface {
	// Create inserts pos with version 1.
	Create(ctx context.Context, pos Position) (Position, error)
	// Update replaces pos if the stored version equals pos.Version and
	// returns the record with its new version.
	Update(ctx context.Context, pos Position) (Position, error)
	// MarkClosed moves the position out of the open set.
	MarkClosed(ctx context.Context, id string, version int64) error
	// Delete removes a position that never produced history.
	Delete(ctx context.Context, id string, version int64) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
}

// HistoryStore persists the append-only closed-signal history.
type HistoryStore interface {
	Append(ctx context.Context, c ClosedSignal) error
	List(ctx context.Context, opts ListOpts) ([]ClosedSignal, error)
	ListBefore(ctx context.Context, before time.Time) ([]ClosedSignal, error)
	// Clear removes history entries for mode, or every entry when mode is
	// empty, and returns the number removed.
	Clear(ctx context.Context, mode PositionMode) (int64, error)
}

// BalanceStore persists the per-pool balances.
type BalanceStore interface {
	// Get returns ErrNotFound before the pool is first written.
	Get(ctx context.Context, pool Pool) (BalanceRecord, error)
	// Put writes rec if the stored version equals rec.Version (0 for a new
	// pool) and returns the record with its new version.
	Put(ctx context.Context, rec BalanceRecord) (BalanceRecord, error)
}

// StatsStore persists the aggregate win/loss tally.
type StatsStore interface {
	Record(ctx context.Context, win bool) error
	Get(ctx context.Context) (TradeStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Positions PositionStore
	History   HistoryStore
	Balances  BalanceStore
	Stats     StatsStore
	Audit     AuditStore
}

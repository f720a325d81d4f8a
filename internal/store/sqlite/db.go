// Package sqlite stores the ledger as JSON blobs in a single key/value
// table, one row per collection. Reads are defensive: corrupt rows and
// items are logged and skipped so the ledger always loads.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// Schema creates the tables used by every store in this package.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
`

// Collection keys.
const (
	keyPositions       = "positions"
	keyClosedPositions = "positions:closed"
	keyHistory         = "history"
	keyStatsTrades     = "stats:trades"
	keyStatsWins       = "stats:wins"
)

func balanceKey(p domain.Pool) string { return "balance:" + string(p) }

// DB is an open ledger database scoped to one account.
type DB struct {
	db      *sql.DB
	account string
	logger  *slog.Logger
	now     func() time.Time
}

// Open opens (creating if needed) the database at path. Keys are prefixed
// with account so one file can hold several ledgers.
func Open(path, account string, logger *slog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{
		db:      db,
		account: account,
		logger:  logger.With(slog.String("component", "sqlite_store")),
		now:     time.Now,
	}, nil
}

// Stores returns every store backed by d.
func (d *DB) Stores() domain.Stores {
	return domain.Stores{
		Positions: NewPositionStore(d),
		History:   NewHistoryStore(d),
		Balances:  NewBalanceStore(d),
		Stats:     NewStatsStore(d),
		Audit:     NewAuditStore(d),
	}
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) key(k string) string {
	if d.account == "" {
		return k
	}
	return d.account + "/" + k
}

// read returns the raw blob and its row version. found is false when the
// key has never been written.
func (d *DB) read(ctx context.Context, q querier, k string) (raw []byte, version int64, found bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT value, version FROM kv WHERE key = ?`, d.key(k)).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("sqlite: read %s: %w", k, err)
	}
	return raw, version, true, nil
}

// write upserts the blob and bumps its version.
func (d *DB) write(ctx context.Context, q querier, k string, raw []byte) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		d.key(k), raw, d.now().UTC().Format(time.RFC3339Nano),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("sqlite: write %s: %w", k, err)
	}
	return version, nil
}

func (d *DB) remove(ctx context.Context, q querier, k string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, d.key(k)); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", k, err)
	}
	return nil
}

// tx runs fn in an immediate transaction.
func (d *DB) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// malformed logs a recovered decode failure.
func (d *DB) malformed(ctx context.Context, k string, err error) {
	d.logger.WarnContext(ctx, "sqlite: recovered malformed stored data",
		slog.String("key", k),
		slog.String("error", err.Error()),
	)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

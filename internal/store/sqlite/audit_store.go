package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// AuditStore appends to the audit_log table.
type AuditStore struct {
	d *DB
}

// NewAuditStore creates an AuditStore on d.
func NewAuditStore(d *DB) *AuditStore { return &AuditStore{d: d} }

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	row := make(map[string]any, len(detail)+1)
	for k, v := range detail {
		row[k] = v
	}
	if s.d.account != "" {
		row["account"] = s.d.account
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.d.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), s.d.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert audit log: %w", err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, event, detail, created_at FROM audit_log`
	args := []any{}
	if opts.Since != nil {
		query += ` WHERE created_at >= ?`
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail string
			at     string
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			e.Detail = map[string]any{"raw": detail}
		}
		e.CreatedAt = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)

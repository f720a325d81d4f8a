package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/ledger"
	"github.com/alanyoungcy/simledger/internal/pnl"
)

// PortfolioService answers the read-side questions about an account: the
// balances, the win rate, today's P&L and the closed history. It also owns
// history clearing and archiving.
type PortfolioService struct {
	positions domain.PositionStore
	history   domain.HistoryStore
	stats     domain.StatsStore
	audit     domain.AuditStore
	ledger    *ledger.Ledger
	archiver  domain.HistoryArchiver
	logger    *slog.Logger
	now       func() time.Time
}

// NewPortfolioService creates a PortfolioService. archiver may be nil.
func NewPortfolioService(stores domain.Stores, l *ledger.Ledger, archiver domain.HistoryArchiver, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		positions: stores.Positions,
		history:   stores.History,
		stats:     stores.Stats,
		audit:     stores.Audit,
		ledger:    l,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "portfolio_service")),
		now:       time.Now,
	}
}

// Summary is the account overview. WinRate is nil until a trade has been
// closed, which clients render as N/A.
type Summary struct {
	Balances  []domain.BalanceSnapshot `json:"balances"`
	Stats     domain.TradeStats        `json:"stats"`
	WinRate   *float64                 `json:"winRate"`
	TodayPnL  float64                  `json:"todayPnl"`
	ActivePnL float64                  `json:"activePnl"`
	Open      int                      `json:"open"`
	Pending   int                      `json:"pending"`
}

// Summary builds the overview. Today's P&L is the history closed since
// midnight UTC plus the live P&L of active positions and whatever they have
// already realized through partial take profits.
func (s *PortfolioService) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	var err error
	if out.Balances, err = s.ledger.Snapshots(ctx); err != nil {
		return Summary{}, fmt.Errorf("portfolio_service: balances: %w", err)
	}
	if out.Stats, err = s.stats.Get(ctx); err != nil {
		return Summary{}, fmt.Errorf("portfolio_service: stats: %w", err)
	}
	if rate, ok := out.Stats.WinRate(); ok {
		out.WinRate = &rate
	}

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("portfolio_service: list open: %w", err)
	}
	for _, p := range open {
		switch {
		case p.IsActive():
			out.Open++
			out.ActivePnL += pnl.PnL(pnl.FromPosition(p), p.MarkPrice)
			out.TodayPnL += p.RealizedPnL
		case p.IsPending():
			out.Pending++
		}
	}

	since := startOfDay(s.now())
	today, err := s.history.List(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		return Summary{}, fmt.Errorf("portfolio_service: today's history: %w", err)
	}
	for _, c := range today {
		out.TodayPnL += c.PnL
	}
	out.TodayPnL += out.ActivePnL
	return out, nil
}

// Stats returns the win/loss tally.
func (s *PortfolioService) Stats(ctx context.Context) (domain.TradeStats, error) {
	st, err := s.stats.Get(ctx)
	if err != nil {
		return domain.TradeStats{}, fmt.Errorf("portfolio_service: stats: %w", err)
	}
	return st, nil
}

// Balances returns both pools.
func (s *PortfolioService) Balances(ctx context.Context) ([]domain.BalanceSnapshot, error) {
	return s.ledger.Snapshots(ctx)
}

// ResetBalance restores pool to its starting balance.
func (s *PortfolioService) ResetBalance(ctx context.Context, pool domain.Pool) (domain.BalanceSnapshot, error) {
	bal, err := s.ledger.Reset(ctx, pool)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	s.auditLog(ctx, "balance_reset", map[string]any{"pool": string(pool)})
	return bal, nil
}

// History lists closed signals newest first.
func (s *PortfolioService) History(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedSignal, error) {
	out, err := s.history.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: history: %w", err)
	}
	return out, nil
}

// ClearResult reports what ClearHistory did.
type ClearResult struct {
	Removed     int64  `json:"removed"`
	ArchivePath string `json:"archivePath,omitempty"`
	Archived    int64  `json:"archived,omitempty"`
}

// ClearHistory removes the history of mode, or all of it when mode is
// empty. With an archiver configured the full history is uploaded first and
// nothing is removed if that fails. The win/loss tally is kept.
func (s *PortfolioService) ClearHistory(ctx context.Context, mode domain.PositionMode) (ClearResult, error) {
	if mode != "" && !mode.Valid() {
		return ClearResult{}, fmt.Errorf("%w: position mode %q", domain.ErrInvalidOrder, mode)
	}
	var res ClearResult
	if s.archiver != nil {
		path, n, err := s.archiver.ArchiveHistory(ctx, s.now().UTC().Add(time.Millisecond))
		if err != nil {
			return ClearResult{}, fmt.Errorf("portfolio_service: archive before clear: %w", err)
		}
		res.ArchivePath, res.Archived = path, n
	}
	n, err := s.history.Clear(ctx, mode)
	if err != nil {
		return ClearResult{}, fmt.Errorf("portfolio_service: clear history: %w", err)
	}
	res.Removed = n
	s.auditLog(ctx, "history_cleared", map[string]any{
		"mode":    string(mode),
		"removed": n,
		"archive": res.ArchivePath,
	})
	s.logger.InfoContext(ctx, "portfolio_service: history cleared",
		slog.String("mode", string(mode)),
		slog.Int64("removed", n),
	)
	return res, nil
}

// ArchiveDaily uploads everything closed before today. The object path is
// derived from the cutoff so repeated runs on one day overwrite one object.
func (s *PortfolioService) ArchiveDaily(ctx context.Context) (string, int64, error) {
	if s.archiver == nil {
		return "", 0, nil
	}
	path, n, err := s.archiver.ArchiveHistory(ctx, startOfDay(s.now()))
	if err != nil {
		return "", 0, fmt.Errorf("portfolio_service: archive: %w", err)
	}
	return path, n, nil
}

// Archives lists uploaded history archives.
func (s *PortfolioService) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.archiver == nil {
		return []domain.BlobInfo{}, nil
	}
	return s.archiver.ListArchives(ctx)
}

func (s *PortfolioService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "portfolio_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

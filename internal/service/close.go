package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/notify"
	"github.com/alanyoungcy/simledger/internal/pnl"
)

// Close settles an active position at closePrice. A closePrice of zero or
// less uses the mark price. A liquidation always realizes -margin.
//
// Reason partial is a projection: the result carries the pnl and the balance
// the close would produce, Applied is false and nothing is written. Use
// TakePartial to realize part of a position.
func (s *PositionService) Close(ctx context.Context, id string, closePrice float64, reason domain.CloseReason) (domain.CloseResult, error) {
	if !reason.Valid() {
		return domain.CloseResult{}, fmt.Errorf("%w: close reason %q", domain.ErrInvalidOrder, reason)
	}
	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.CloseResult{}, err
	}
	defer unlock()

	p, err := s.mutable(ctx, id)
	if err != nil {
		return domain.CloseResult{}, err
	}
	if !p.IsActive() {
		return domain.CloseResult{}, domain.ErrNotActive
	}
	price := closePrice
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		price = p.MarkPrice
	}
	if price <= 0 && reason != domain.CloseLiquidation {
		return domain.CloseResult{}, fmt.Errorf("%w: no close price for %s", domain.ErrInvalidOrder, id)
	}

	if reason == domain.ClosePartial {
		realized, roe := pnl.Realized(pnl.FromPosition(p), price, reason)
		bal, err := s.ledger.Project(ctx, p.PositionMode.Pool(), p.Margin, realized)
		if err != nil {
			return domain.CloseResult{}, fmt.Errorf("position_service: project %s: %w", id, err)
		}
		return domain.CloseResult{PnL: realized, ROE: roe, Balance: bal}, nil
	}
	return s.closeLocked(ctx, p, price, reason)
}

// closeLocked runs the settlement sequence. The CAS on MarkClosed makes the
// rest happen at most once per position. The caller holds the guard.
//
// The result's PnL is what this close settles. The history entry's PnL also
// carries what earlier partial realizations already settled.
func (s *PositionService) closeLocked(ctx context.Context, p domain.Position, price float64, reason domain.CloseReason) (domain.CloseResult, error) {
	realized, roe := pnl.Realized(pnl.FromPosition(p), price, reason)
	total := realized + p.RealizedPnL

	if err := s.positions.MarkClosed(ctx, p.ID, p.Version); err != nil {
		return domain.CloseResult{}, fmt.Errorf("position_service: close %s: %w", p.ID, err)
	}

	pool := p.PositionMode.Pool()
	bal, err := s.ledger.Settle(ctx, pool, p.Margin, realized)
	if err != nil {
		s.logger.ErrorContext(ctx, "position_service: settle failed after close",
			slog.String("position_id", p.ID),
			slog.Float64("margin", p.Margin),
			slog.Float64("pnl", realized),
			slog.String("error", err.Error()),
		)
		return domain.CloseResult{}, fmt.Errorf("position_service: settle %s: %w", p.ID, err)
	}

	now := s.now().UTC()
	snap := p.Clone()
	snap.Status = domain.StatusClosed
	if price > 0 {
		snap.MarkPrice = price
	}
	closed := domain.ClosedSignal{
		Position:       snap,
		ID:             fmt.Sprintf("%s-%d-%s", p.ID, now.UnixMilli(), uuid.NewString()[:8]),
		PositionID:     p.ID,
		ClosePrice:     price,
		PnL:            total,
		ROE:            roe,
		Reason:         reason,
		CloseTimestamp: now,
	}
	res := domain.CloseResult{Closed: &closed, PnL: realized, ROE: roe, Balance: bal, Applied: true}

	var errs []error
	if err := s.history.Append(ctx, closed); err != nil {
		errs = append(errs, fmt.Errorf("position_service: append history %s: %w", p.ID, err))
	}
	if err := s.stats.Record(ctx, closed.IsWin()); err != nil {
		errs = append(errs, fmt.Errorf("position_service: record tally %s: %w", p.ID, err))
	}

	s.publish(ctx, domain.EventClosed, &snap, &closed, &bal)
	s.auditLog(ctx, "position_closed", map[string]any{
		"position_id": p.ID,
		"ticker":      p.Ticker,
		"reason":      string(reason),
		"close_price": price,
		"entry_price": p.EntryPrice,
		"margin":      p.Margin,
		"pnl":         realized,
		"total_pnl":   total,
		"roe":         roe,
	})
	event, title := notify.EventPositionClosed, "Position closed"
	if reason == domain.CloseLiquidation {
		event, title = notify.EventLiquidation, "Position liquidated"
	}
	s.notifier.Fire(event, title,
		fmt.Sprintf("%s %s (%s) pnl %+.2f roe %+.2f%%", p.Ticker, p.TradeType, reason, total, roe))
	s.metrics.PositionClosed(string(p.PositionMode), string(reason), total)
	s.metrics.SetAvailable(string(pool), bal.Available)
	s.observeOpen(ctx)

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", p.ID),
		slog.String("reason", string(reason)),
		slog.Float64("close_price", price),
		slog.Float64("pnl", realized),
		slog.Float64("total_pnl", total),
	)
	return res, errors.Join(errs...)
}

// TakePartial realizes pnl on fraction of the margin at price. The
// position stays open with the remaining margin and accumulates the
// realized amount; no history entry is written and the win/loss tally is
// untouched until the final close.
func (s *PositionService) TakePartial(ctx context.Context, id string, fraction, price float64) (domain.CloseResult, error) {
	if !(fraction > 0) || fraction >= 1 {
		return domain.CloseResult{}, fmt.Errorf("%w: fraction must be in (0, 1)", domain.ErrInvalidOrder)
	}
	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.CloseResult{}, err
	}
	defer unlock()

	p, err := s.mutable(ctx, id)
	if err != nil {
		return domain.CloseResult{}, err
	}
	if !p.IsActive() {
		return domain.CloseResult{}, domain.ErrNotActive
	}
	if price <= 0 {
		price = p.MarkPrice
	}
	res, _, err := s.takePartialLocked(ctx, p, fraction, price, "manual")
	return res, err
}

// takePartialLocked writes p with its margin reduced by fraction, then
// settles the released margin and its pnl. Other field changes already made
// to p are persisted in the same write.
func (s *PositionService) takePartialLocked(ctx context.Context, p domain.Position, fraction, price float64, trigger string) (domain.CloseResult, domain.Position, error) {
	part := p.Margin * fraction
	in := pnl.FromPosition(p)
	in.Margin = part
	realized := pnl.PnL(in, price)
	roe := pnl.ROE(realized, part)

	p.Margin -= part
	p.RealizedPnL += realized
	p.MarkPrice = price
	p.UpdatedAt = s.now().UTC()
	saved, err := s.positions.Update(ctx, p)
	if err != nil {
		return domain.CloseResult{}, p, fmt.Errorf("position_service: partial %s: %w", p.ID, err)
	}

	pool := p.PositionMode.Pool()
	bal, err := s.ledger.Settle(ctx, pool, part, realized)
	if err != nil {
		s.logger.ErrorContext(ctx, "position_service: settle failed after partial",
			slog.String("position_id", p.ID),
			slog.Float64("margin", part),
			slog.Float64("pnl", realized),
			slog.String("error", err.Error()),
		)
		return domain.CloseResult{}, saved, fmt.Errorf("position_service: settle partial %s: %w", p.ID, err)
	}

	s.publish(ctx, domain.EventPartial, &saved, nil, &bal)
	s.auditLog(ctx, "position_partial", map[string]any{
		"position_id": p.ID,
		"trigger":     trigger,
		"fraction":    fraction,
		"price":       price,
		"margin":      part,
		"pnl":         realized,
	})
	s.notifier.Fire(notify.EventPositionClosed, "Partial take profit",
		fmt.Sprintf("%s %s realized %+.2f on %.0f%% (%s)", p.Ticker, p.TradeType, realized, fraction*100, trigger))
	s.metrics.SetAvailable(string(pool), bal.Available)

	return domain.CloseResult{PnL: realized, ROE: roe, Balance: bal, Applied: true}, saved, nil
}

// CancelPending removes a pending position and refunds its margin. No
// history entry is produced.
func (s *PositionService) CancelPending(ctx context.Context, id string) (domain.BalanceSnapshot, error) {
	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	defer unlock()

	p, err := s.mutable(ctx, id)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	if !p.IsPending() {
		return domain.BalanceSnapshot{}, domain.ErrNotPending
	}
	if err := s.positions.Delete(ctx, p.ID, p.Version); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("position_service: cancel %s: %w", id, err)
	}
	pool := p.PositionMode.Pool()
	bal, err := s.ledger.Refund(ctx, pool, p.Margin)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("position_service: refund %s: %w", id, err)
	}

	p.Status = domain.StatusClosed
	s.publish(ctx, domain.EventCancelled, &p, nil, &bal)
	s.auditLog(ctx, "position_cancelled", map[string]any{
		"position_id": p.ID,
		"ticker":      p.Ticker,
		"margin":      p.Margin,
	})
	s.notifier.Fire(notify.EventPositionCanceled, "Order cancelled",
		fmt.Sprintf("%s %s margin %.2f returned", p.Ticker, p.TradeType, p.Margin))
	s.metrics.SetAvailable(string(pool), bal.Available)
	s.observeOpen(ctx)
	return bal, nil
}

// EstimateCloseAll totals the pnl CloseAll would realize at current marks.
func (s *PositionService) EstimateCloseAll(ctx context.Context) (domain.CloseAllEstimate, error) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return domain.CloseAllEstimate{}, fmt.Errorf("position_service: list open: %w", err)
	}
	est := domain.CloseAllEstimate{PositionIDs: []string{}}
	for _, p := range closable(open) {
		est.Count++
		est.TotalPnL += pnl.PnL(pnl.FromPosition(p), p.MarkPrice)
		est.PositionIDs = append(est.PositionIDs, p.ID)
	}
	return est, nil
}

// CloseAll closes every active, non-read-only position at its mark price
// with reason manual. A failure on one position does not stop the others.
func (s *PositionService) CloseAll(ctx context.Context) ([]domain.CloseResult, error) {
	unlock, err := s.guard(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open: %w", err)
	}
	var (
		out  []domain.CloseResult
		errs []error
	)
	for _, p := range closable(open) {
		res, err := s.closeLocked(ctx, p, p.MarkPrice, domain.CloseManual)
		if err != nil {
			errs = append(errs, err)
		}
		if res.Applied {
			out = append(out, res)
		}
	}
	return out, errors.Join(errs...)
}

func closable(open []domain.Position) []domain.Position {
	var out []domain.Position
	for _, p := range open {
		if p.IsActive() && !p.ReadOnly {
			out = append(out, p)
		}
	}
	return out
}

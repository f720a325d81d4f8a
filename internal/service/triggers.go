package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/notify"
	"github.com/alanyoungcy/simledger/internal/pnl"
	"github.com/alanyoungcy/simledger/internal/targets"
)

// OnPrice marks every position on ticker to price and fires whatever the
// move triggers. Pending orders are checked for activation. Active
// positions are checked in order for liquidation (futures only), stop loss,
// the take-profit ladder and the spot sell-half rule. Read-only positions
// are left alone.
func (s *PositionService) OnPrice(ctx context.Context, ticker string, price float64, at time.Time) error {
	ticker = normalizeTicker(ticker)
	if ticker == "" || !(price > 0) {
		return fmt.Errorf("%w: tick %q at %v", domain.ErrInvalidOrder, ticker, price)
	}
	unlock, err := s.guard(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position_service: list open: %w", err)
	}
	var errs []error
	for _, p := range open {
		if p.Ticker != ticker || p.ReadOnly || p.IsClosed() {
			continue
		}
		var err error
		if p.IsPending() {
			err = s.onPricePending(ctx, p, price)
		} else {
			err = s.onPriceActive(ctx, p, price)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "position_service: price trigger failed",
				slog.String("position_id", p.ID),
				slog.Float64("price", price),
				slog.Time("at", at),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Activates reports whether price fills a pending order. A limit buys at or
// below its price (sells at or above); a stop-limit is the reverse.
func Activates(p domain.Position, price float64) bool {
	below := price <= p.EntryPrice
	above := price >= p.EntryPrice
	long := p.TradeType == domain.TradeLong
	switch p.OrderType {
	case domain.OrderLimit:
		return (long && below) || (!long && above)
	case domain.OrderStopLimit:
		return (long && above) || (!long && below)
	}
	return false
}

// StopHit reports whether price has reached the stop loss.
func StopHit(p domain.Position, price float64) bool {
	if p.StopLoss == nil || *p.StopLoss <= 0 {
		return false
	}
	if p.TradeType == domain.TradeShort {
		return price >= *p.StopLoss
	}
	return price <= *p.StopLoss
}

func (s *PositionService) onPricePending(ctx context.Context, p domain.Position, price float64) error {
	if !Activates(p, price) {
		if p.MarkPrice == price {
			return nil
		}
		p.MarkPrice = price
		p.UpdatedAt = s.now().UTC()
		_, err := s.positions.Update(ctx, p)
		return err
	}
	p.Status = domain.StatusActive
	p.MarkPrice = price
	p.UpdatedAt = s.now().UTC()
	saved, err := s.positions.Update(ctx, p)
	if err != nil {
		return fmt.Errorf("position_service: activate %s: %w", p.ID, err)
	}
	s.publish(ctx, domain.EventActivated, &saved, nil, nil)
	s.auditLog(ctx, "position_activated", map[string]any{
		"position_id": p.ID,
		"order_type":  string(p.OrderType),
		"entry_price": p.EntryPrice,
		"price":       price,
	})
	s.notifier.Fire(notify.EventPositionActivated, "Order filled",
		fmt.Sprintf("%s %s %s filled at %s", p.Ticker, p.TradeType, p.OrderType, fmtPrice(p.EntryPrice)))
	s.logger.InfoContext(ctx, "position_service: pending order activated",
		slog.String("position_id", p.ID),
		slog.Float64("price", price),
	)
	return nil
}

func (s *PositionService) onPriceActive(ctx context.Context, p domain.Position, price float64) error {
	prevMark := p.MarkPrice
	p.MarkPrice = price

	if p.PositionMode == domain.ModeFutures && pnl.Liquidated(pnl.FromPosition(p), price) {
		_, err := s.closeLocked(ctx, p, price, domain.CloseLiquidation)
		return err
	}
	if StopHit(p, price) {
		_, err := s.closeLocked(ctx, p, price, domain.CloseStopLoss)
		return err
	}

	// Each intermediate rung realizes an equal share of what is left; the
	// last rung closes the position.
	for {
		rest := p.RemainingTargets()
		if len(rest) == 0 || !targets.Reached(p.TradeType, rest[0].Price, price) {
			break
		}
		if len(rest) == 1 {
			_, err := s.closeLocked(ctx, p, price, domain.CloseTakeProfit)
			return err
		}
		p.TargetsHit++
		_, saved, err := s.takePartialLocked(ctx, p, 1/float64(len(rest)), price, "take_profit")
		if err != nil {
			return err
		}
		p, prevMark = saved, price
	}
	if len(p.TakeProfitTargets) == 0 && p.TakeProfit != nil && targets.Reached(p.TradeType, *p.TakeProfit, price) {
		_, err := s.closeLocked(ctx, p, price, domain.CloseTakeProfit)
		return err
	}

	if p.PositionMode == domain.ModeSpot && p.SellHalfOnDoubling && !p.HalfSold &&
		p.EntryPrice > 0 && price >= 2*p.EntryPrice {
		p.HalfSold = true
		_, _, err := s.takePartialLocked(ctx, p, 0.5, price, "sell_half")
		return err
	}

	if prevMark == price {
		return nil
	}
	p.UpdatedAt = s.now().UTC()
	if _, err := s.positions.Update(ctx, p); err != nil {
		return fmt.Errorf("position_service: mark %s: %w", p.ID, err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/notify"
	"github.com/alanyoungcy/simledger/internal/targets"
)

// TargetEdit changes one rung. Exactly one of Price and Percentage is set;
// the other is derived from the entry price.
type TargetEdit struct {
	Price      *float64 `json:"price,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
}

// AddTarget appends a rung one step beyond the last.
func (s *PositionService) AddTarget(ctx context.Context, id string) (domain.Position, bool, error) {
	return s.editLadder(ctx, id, "target_added", func(p domain.Position) ([]domain.TakeProfitTarget, error) {
		return targets.Add(p.TakeProfitTargets, p.TradeType, p.EntryPrice)
	})
}

// RemoveTarget drops one rung. The last rung cannot be removed; clear the
// ladder through SetTakeProfitStopLoss instead.
func (s *PositionService) RemoveTarget(ctx context.Context, id, targetID string) (domain.Position, bool, error) {
	return s.editLadder(ctx, id, "target_removed", func(p domain.Position) ([]domain.TakeProfitTarget, error) {
		return targets.Remove(p.TakeProfitTargets, targetID)
	})
}

// EditTarget moves one rung by price or by percentage.
func (s *PositionService) EditTarget(ctx context.Context, id, targetID string, e TargetEdit) (domain.Position, bool, error) {
	if (e.Price == nil) == (e.Percentage == nil) {
		return domain.Position{}, false, fmt.Errorf("%w: set either price or percentage", domain.ErrInvalidOrder)
	}
	return s.editLadder(ctx, id, "target_edited", func(p domain.Position) ([]domain.TakeProfitTarget, error) {
		if e.Price != nil {
			return targets.SetPrice(p.TakeProfitTargets, targetID, *e.Price, p.TradeType, p.EntryPrice)
		}
		return targets.SetPercentage(p.TakeProfitTargets, targetID, *e.Percentage, p.TradeType, p.EntryPrice)
	})
}

// editLadder applies one rung change, runs the validator and persists the
// result under the guard. A ladder with realized rungs is only replaced
// whole.
func (s *PositionService) editLadder(ctx context.Context, id, event string, change func(domain.Position) ([]domain.TakeProfitTarget, error)) (domain.Position, bool, error) {
	unlock, err := s.guard(ctx)
	if err != nil {
		return domain.Position{}, false, err
	}
	defer unlock()

	p, err := s.mutable(ctx, id)
	if err != nil {
		return domain.Position{}, false, err
	}
	if p.TargetsHit > 0 {
		return domain.Position{}, false, fmt.Errorf("%w: %d targets already realized", domain.ErrInvalidOrder, p.TargetsHit)
	}

	ladder, err := change(p)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: %s %s: %w", event, id, err)
	}
	res := targets.Validate(ladder, p.EntryPrice, p.TradeType)
	for i := range res.Targets {
		res.Targets[i].Percentage = targets.Round4(res.Targets[i].Percentage)
	}
	p.TakeProfitTargets = res.Targets
	p.TakeProfit = nil
	p.UpdatedAt = s.now().UTC()

	saved, err := s.positions.Update(ctx, p)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: %s %s: %w", event, id, err)
	}
	s.publish(ctx, domain.EventUpdated, &saved, nil, nil)
	s.auditLog(ctx, event, map[string]any{
		"position_id": id,
		"targets":     len(saved.TakeProfitTargets),
		"corrected":   res.Corrected,
	})
	if res.Corrected {
		s.metrics.TargetsCorrected()
		s.notifier.Throttled(ctx, "targets:"+id, notify.EventTargetsCorrected, "Targets adjusted",
			fmt.Sprintf("%s take-profit targets were spaced at least %.0f%% apart", saved.Ticker, targets.MinGapPct))
	}
	return saved, res.Corrected, nil
}

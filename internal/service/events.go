package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// publish sends evt on the positions channel and appends it to the durable
// stream. Failures are logged; the mutation has already happened.
func (s *PositionService) publish(ctx context.Context, typ domain.PositionEventType, p *domain.Position, closed *domain.ClosedSignal, bal *domain.BalanceSnapshot) {
	if s.bus == nil {
		return
	}
	evt := domain.PositionEvent{
		ID:       uuid.NewString(),
		Type:     typ,
		Position: p,
		Closed:   closed,
		Balance:  bal,
		At:       s.now().UTC(),
	}
	if p != nil {
		evt.PositionID = p.ID
		evt.Version = p.Version
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "position_service: marshal event failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamPositions, payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: stream append failed",
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe streams live position events until ctx is done. Undecodable
// payloads are skipped.
func (s *PositionService) Subscribe(ctx context.Context) (<-chan domain.PositionEvent, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("position_service: subscribe: no signal bus configured")
	}
	raw, err := s.bus.Subscribe(ctx, domain.ChannelPositions)
	if err != nil {
		return nil, fmt.Errorf("position_service: subscribe: %w", err)
	}
	out := make(chan domain.PositionEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var evt domain.PositionEvent
				if err := json.Unmarshal(payload, &evt); err != nil {
					s.logger.DebugContext(ctx, "position_service: drop undecodable event",
						slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// LoggedEvent is a position event with its stream cursor. Pass the last
// cursor back to Replay to continue.
type LoggedEvent struct {
	Cursor string `json:"cursor"`
	domain.PositionEvent
}

// Replay reads up to count events after cursor from the durable log. Cursor
// "0" starts at the beginning.
func (s *PositionService) Replay(ctx context.Context, cursor string, count int) ([]LoggedEvent, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("position_service: replay: no signal bus configured")
	}
	if cursor == "" {
		cursor = "0"
	}
	if count <= 0 {
		count = 100
	}
	msgs, err := s.bus.StreamRead(ctx, domain.StreamPositions, cursor, count)
	if err != nil {
		return nil, fmt.Errorf("position_service: replay from %s: %w", cursor, err)
	}
	out := make([]LoggedEvent, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.PositionEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			s.logger.WarnContext(ctx, "position_service: skip malformed log entry",
				slog.String("cursor", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, LoggedEvent{Cursor: m.ID, PositionEvent: evt})
	}
	return out, nil
}

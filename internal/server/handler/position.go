package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/service"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req service.OpenRequest) (domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, f service.ListFilter) ([]domain.Position, error)
	AdjustLeverage(ctx context.Context, id string, leverage int, applyToAll bool) ([]domain.Position, error)
	SetTakeProfitStopLoss(ctx context.Context, id string, ladder []domain.TakeProfitTarget, stopLoss *float64) (domain.Position, bool, error)
	AddTarget(ctx context.Context, id string) (domain.Position, bool, error)
	EditTarget(ctx context.Context, id, targetID string, e service.TargetEdit) (domain.Position, bool, error)
	RemoveTarget(ctx context.Context, id, targetID string) (domain.Position, bool, error)
	Close(ctx context.Context, id string, closePrice float64, reason domain.CloseReason) (domain.CloseResult, error)
	TakePartial(ctx context.Context, id string, fraction, price float64) (domain.CloseResult, error)
	CancelPending(ctx context.Context, id string) (domain.BalanceSnapshot, error)
	EstimateCloseAll(ctx context.Context) (domain.CloseAllEstimate, error)
	CloseAll(ctx context.Context) ([]domain.CloseResult, error)
	Replay(ctx context.Context, cursor string, count int) ([]service.LoggedEvent, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

type listPositionsResponse struct {
	Positions []service.PositionView `json:"positions"`
}

func views(in []domain.Position) []service.PositionView {
	out := make([]service.PositionView, 0, len(in))
	for _, p := range in {
		out = append(out, service.View(p))
	}
	return out
}

// ListPositions returns open and pending positions.
// GET /api/positions?mode=futures&status=active&ticker=BTCUSDT
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	positions, err := h.positions.List(r.Context(), service.ListFilter{
		Mode:   domain.PositionMode(q.Get("mode")),
		Status: domain.PositionStatus(q.Get("status")),
		Ticker: q.Get("ticker"),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views(positions)})
}

// GetPosition returns one position with its live figures.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, service.View(p))
}

// OpenPosition opens a market, limit or stop-limit position.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req service.OpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.positions.Open(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, service.View(p))
}

type leverageRequest struct {
	Leverage   int  `json:"leverage"`
	ApplyToAll bool `json:"applyToAll"`
}

// AdjustLeverage changes the leverage of one futures position, or all of
// them with applyToAll.
// POST /api/positions/{id}/leverage
func (h *PositionHandler) AdjustLeverage(w http.ResponseWriter, r *http.Request) {
	var req leverageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.positions.AdjustLeverage(r.Context(), r.PathValue("id"), req.Leverage, req.ApplyToAll)
	if err != nil {
		writeDomainError(w, r, h.logger, "adjust leverage", err)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views(updated)})
}

type tpslRequest struct {
	Targets  []domain.TakeProfitTarget `json:"targets"`
	StopLoss *float64                  `json:"stopLoss"`
}

type tpslResponse struct {
	Position  service.PositionView `json:"position"`
	Corrected bool                 `json:"corrected"`
}

// SetTakeProfitStopLoss replaces the target ladder and the stop loss. The
// response reports whether the ladder had to be corrected.
// PUT /api/positions/{id}/tpsl
func (h *PositionHandler) SetTakeProfitStopLoss(w http.ResponseWriter, r *http.Request) {
	var req tpslRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, corrected, err := h.positions.SetTakeProfitStopLoss(r.Context(), r.PathValue("id"), req.Targets, req.StopLoss)
	if err != nil {
		writeDomainError(w, r, h.logger, "set tp/sl", err)
		return
	}
	writeJSON(w, http.StatusOK, tpslResponse{Position: service.View(p), Corrected: corrected})
}

// AddTarget appends a take-profit rung one step beyond the last.
// POST /api/positions/{id}/targets
func (h *PositionHandler) AddTarget(w http.ResponseWriter, r *http.Request) {
	p, corrected, err := h.positions.AddTarget(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "add target", err)
		return
	}
	writeJSON(w, http.StatusOK, tpslResponse{Position: service.View(p), Corrected: corrected})
}

// EditTarget moves one rung. The body carries either price or percentage.
// PATCH /api/positions/{id}/targets/{tid}
func (h *PositionHandler) EditTarget(w http.ResponseWriter, r *http.Request) {
	var req service.TargetEdit
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, corrected, err := h.positions.EditTarget(r.Context(), r.PathValue("id"), r.PathValue("tid"), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "edit target", err)
		return
	}
	writeJSON(w, http.StatusOK, tpslResponse{Position: service.View(p), Corrected: corrected})
}

// RemoveTarget drops one rung.
// DELETE /api/positions/{id}/targets/{tid}
func (h *PositionHandler) RemoveTarget(w http.ResponseWriter, r *http.Request) {
	p, corrected, err := h.positions.RemoveTarget(r.Context(), r.PathValue("id"), r.PathValue("tid"))
	if err != nil {
		writeDomainError(w, r, h.logger, "remove target", err)
		return
	}
	writeJSON(w, http.StatusOK, tpslResponse{Position: service.View(p), Corrected: corrected})
}

type closeRequest struct {
	Price  float64            `json:"price"`
	Reason domain.CloseReason `json:"reason"`
}

// ClosePosition settles a position. A missing price closes at the mark; a
// missing reason is manual. reason "partial" only projects the result.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = domain.CloseManual
	}
	res, err := h.positions.Close(r.Context(), r.PathValue("id"), req.Price, req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type partialRequest struct {
	Fraction float64 `json:"fraction"`
	Price    float64 `json:"price"`
}

// TakePartial realizes a fraction of a position.
// POST /api/positions/{id}/partial
func (h *PositionHandler) TakePartial(w http.ResponseWriter, r *http.Request) {
	var req partialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.positions.TakePartial(r.Context(), r.PathValue("id"), req.Fraction, req.Price)
	if err != nil {
		writeDomainError(w, r, h.logger, "partial close", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelPending removes a pending order and refunds its margin.
// DELETE /api/positions/{id}
func (h *PositionHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	bal, err := h.positions.CancelPending(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": bal})
}

// EstimateCloseAll reports what closing every active position would
// realize.
// GET /api/positions/close-all/estimate
func (h *PositionHandler) EstimateCloseAll(w http.ResponseWriter, r *http.Request) {
	est, err := h.positions.EstimateCloseAll(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "estimate close all", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type closeAllResponse struct {
	Results []domain.CloseResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// CloseAll closes every active position at its mark. Positions that fail
// are reported alongside the ones that closed.
// POST /api/positions/close-all
func (h *PositionHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.positions.CloseAll(r.Context())
	if err != nil && len(results) == 0 {
		writeDomainError(w, r, h.logger, "close all", err)
		return
	}
	resp := closeAllResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []domain.CloseResult{}
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: close all partially failed",
			slog.Int("closed", len(results)),
			slog.String("error", err.Error()),
		)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListEvents replays the position event log after cursor.
// GET /api/positions/events?cursor=0&count=100
func (h *PositionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	events, err := h.positions.Replay(r.Context(), r.URL.Query().Get("cursor"), count)
	if err != nil {
		writeDomainError(w, r, h.logger, "replay events", err)
		return
	}
	if events == nil {
		events = []service.LoggedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

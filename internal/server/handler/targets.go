package handler

import (
	"net/http"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/targets"
)

type validateTargetsRequest struct {
	Targets    []domain.TakeProfitTarget `json:"targets"`
	TradeType  domain.TradeType          `json:"tradeType"`
	EntryPrice float64                   `json:"entryPrice"`
	StopLoss   float64                   `json:"stopLoss"`
	Leverage   int                       `json:"leverage"`
}

// ValidateTargets runs the ladder validator without touching any position.
// POST /api/targets/validate
func ValidateTargets(w http.ResponseWriter, r *http.Request) {
	var req validateTargetsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.TradeType.Valid() {
		writeError(w, http.StatusBadRequest, "tradeType must be Long or Short")
		return
	}
	if !(req.EntryPrice > 0) {
		writeError(w, http.StatusBadRequest, "entryPrice must be positive")
		return
	}
	if len(req.Targets) > targets.MaxTargets {
		writeError(w, http.StatusBadRequest, "too many targets")
		return
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}
	writeJSON(w, http.StatusOK, targets.Plan(req.Targets, req.TradeType, req.EntryPrice, req.StopLoss, req.Leverage))
}

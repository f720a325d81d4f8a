package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/service"
)

// PortfolioService defines the methods that the portfolio handler requires.
type PortfolioService interface {
	Summary(ctx context.Context) (service.Summary, error)
	Stats(ctx context.Context) (domain.TradeStats, error)
	Balances(ctx context.Context) ([]domain.BalanceSnapshot, error)
	ResetBalance(ctx context.Context, pool domain.Pool) (domain.BalanceSnapshot, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedSignal, error)
	ClearHistory(ctx context.Context, mode domain.PositionMode) (service.ClearResult, error)
	Archives(ctx context.Context) ([]domain.BlobInfo, error)
}

// PortfolioHandler serves balances, history and stats.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		portfolio: portfolio,
		logger:    logger.With(slog.String("handler", "portfolio")),
	}
}

// GetSummary returns balances, win rate and today's P&L.
// GET /api/summary
func (h *PortfolioHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.portfolio.Summary(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetBalances returns both pools.
// GET /api/balances
func (h *PortfolioHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := h.portfolio.Balances(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": bals})
}

// ResetBalance restores a pool to its starting balance.
// POST /api/balances/{pool}/reset
func (h *PortfolioHandler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	pool := domain.Pool(r.PathValue("pool"))
	if !pool.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown pool %q", pool))
		return
	}
	bal, err := h.portfolio.ResetBalance(r.Context(), pool)
	if err != nil {
		writeDomainError(w, r, h.logger, "reset balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// GetHistory lists closed signals newest first.
// GET /api/history?mode=spot&since=...&until=...&limit=50&offset=0
func (h *PortfolioHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hist, err := h.portfolio.History(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "history", err)
		return
	}
	if hist == nil {
		hist = []domain.ClosedSignal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hist})
}

// ClearHistory removes the history of one mode, or all of it.
// DELETE /api/history?mode=futures
func (h *PortfolioHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	res, err := h.portfolio.ClearHistory(r.Context(), domain.PositionMode(r.URL.Query().Get("mode")))
	if err != nil {
		writeDomainError(w, r, h.logger, "clear history", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListArchives lists uploaded history archives.
// GET /api/history/archives
func (h *PortfolioHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := h.portfolio.Archives(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": list})
}

type statsResponse struct {
	domain.TradeStats
	WinRate *float64 `json:"winRate"`
}

// GetStats returns the win/loss tally. winRate is null until a trade closes.
// GET /api/stats
func (h *PortfolioHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.portfolio.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "stats", err)
		return
	}
	resp := statsResponse{TradeStats: st}
	if rate, ok := st.WinRate(); ok {
		resp.WinRate = &rate
	}
	writeJSON(w, http.StatusOK, resp)
}

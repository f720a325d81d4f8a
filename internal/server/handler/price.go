package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/simledger/internal/domain"
)

// PriceService defines the methods that the price handler requires.
type PriceService interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) error
	GetPrice(ctx context.Context, ticker string) (domain.PriceTick, error)
	GetPrices(ctx context.Context, tickers []string) (map[string]float64, error)
}

// PriceHandler serves cached mark prices.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger.With(slog.String("handler", "prices"))}
}

// GetPrice returns the latest price for one ticker.
// GET /api/prices/{ticker}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	tick, err := h.prices.GetPrice(r.Context(), r.PathValue("ticker"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// ListPrices returns the latest prices for a comma-separated ticker list.
// GET /api/prices?tickers=BTCUSDT,ETHUSDT
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tickers")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "tickers query parameter required")
		return
	}
	prices, err := h.prices.GetPrices(r.Context(), strings.Split(raw, ","))
	if err != nil {
		writeDomainError(w, r, h.logger, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// PostTick injects a mark price and runs the triggers, for manual
// simulation without a feed.
// POST /api/prices
func (h *PriceHandler) PostTick(w http.ResponseWriter, r *http.Request) {
	var tick domain.PriceTick
	if err := decodeJSON(r, &tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.prices.HandleTick(r.Context(), tick); err != nil {
		writeDomainError(w, r, h.logger, "handle tick", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

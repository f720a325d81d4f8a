package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/metrics"
	"github.com/alanyoungcy/simledger/internal/server/handler"
	"github.com/alanyoungcy/simledger/internal/server/middleware"
	"github.com/alanyoungcy/simledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the per-IP request budget per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Portfolio *handler.PortfolioHandler
	Prices    *handler.PriceHandler
}

// Deps are the optional cross-cutting dependencies of the server.
type Deps struct {
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API of the ledger.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: recover, logging, metrics, CORS, rate limit, auth.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	p := handlers.Positions
	mux.HandleFunc("GET /api/positions", p.ListPositions)
	mux.HandleFunc("POST /api/positions", p.OpenPosition)
	mux.HandleFunc("GET /api/positions/events", p.ListEvents)
	mux.HandleFunc("GET /api/positions/close-all/estimate", p.EstimateCloseAll)
	mux.HandleFunc("POST /api/positions/close-all", p.CloseAll)
	mux.HandleFunc("GET /api/positions/{id}", p.GetPosition)
	mux.HandleFunc("DELETE /api/positions/{id}", p.CancelPending)
	mux.HandleFunc("POST /api/positions/{id}/leverage", p.AdjustLeverage)
	mux.HandleFunc("PUT /api/positions/{id}/tpsl", p.SetTakeProfitStopLoss)
	mux.HandleFunc("POST /api/positions/{id}/targets", p.AddTarget)
	mux.HandleFunc("PATCH /api/positions/{id}/targets/{tid}", p.EditTarget)
	mux.HandleFunc("DELETE /api/positions/{id}/targets/{tid}", p.RemoveTarget)
	mux.HandleFunc("POST /api/positions/{id}/close", p.ClosePosition)
	mux.HandleFunc("POST /api/positions/{id}/partial", p.TakePartial)

	pf := handlers.Portfolio
	mux.HandleFunc("GET /api/summary", pf.GetSummary)
	mux.HandleFunc("GET /api/balances", pf.GetBalances)
	mux.HandleFunc("POST /api/balances/{pool}/reset", pf.ResetBalance)
	mux.HandleFunc("GET /api/history", pf.GetHistory)
	mux.HandleFunc("DELETE /api/history", pf.ClearHistory)
	mux.HandleFunc("GET /api/history/archives", pf.ListArchives)
	mux.HandleFunc("GET /api/stats", pf.GetStats)

	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("POST /api/prices", handlers.Prices.PostTick)
	mux.HandleFunc("GET /api/prices/{ticker}", handlers.Prices.GetPrice)

	mux.HandleFunc("POST /api/targets/validate", handler.ValidateTargets)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Metrics(deps.Metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Recover(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

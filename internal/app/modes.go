package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/simledger/internal/feed"
	"github.com/alanyoungcy/simledger/internal/server"
	"github.com/alanyoungcy/simledger/internal/server/handler"
	"github.com/alanyoungcy/simledger/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the WebSocket hub. Prices arrive through
// POST /api/prices.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FeedMode polls the price feed and drives triggers and the history archive
// without serving HTTP.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the HTTP server, the price feed and the archive loop in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startFeed(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Account:   a.cfg.Ledger.Account,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Account:   a.cfg.Ledger.Account,
			Storage:   a.cfg.Storage.Backend,
			Cache:     a.cfg.Cache.Backend,
			Version:   Version,
			StartedAt: startedAt,
		},
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
		Portfolio: handler.NewPortfolioHandler(deps.Portfolio, a.logger),
		Prices:    handler.NewPriceHandler(deps.Prices, a.logger),
	}, server.Deps{
		Hub:     hub,
		Metrics: deps.Metrics,
		Limiter: deps.RateLimiter,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	poller := feed.NewPoller(feed.PollerConfig{
		URL:      a.cfg.Feed.URL,
		Interval: a.cfg.Feed.Interval.Duration,
		Timeout:  a.cfg.Feed.Timeout.Duration,
		Symbols:  a.cfg.Feed.Symbols,
	}, deps.Prices, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return ignoreCanceled(poller.Run(ctx))
	})
}

// startArchiveLoop uploads everything closed before today once per
// archive.interval, starting immediately.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			path, n, err := deps.Portfolio.ArchiveDaily(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				a.logger.WarnContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			case n > 0:
				a.logger.InfoContext(ctx, "archive: history uploaded",
					slog.String("path", path),
					slog.Int64("entries", n),
				)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

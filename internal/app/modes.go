package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumenfi/factorpool/internal/server"
	"github.com/lumenfi/factorpool/internal/server/handler"
	"github.com/lumenfi/factorpool/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 10 * time.Second

// ServeMode runs the HTTP + WebSocket API server.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs the periodic archival job without the API server.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server and the archival job together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "s3 not configured, archival disabled")
	}
	return g.Wait()
}

// startHTTPServer registers the API server and WebSocket hub goroutines.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled by config")
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	led := deps.Ledger
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Invoices:   handler.NewInvoiceHandler(led, a.logger),
		Settlement: handler.NewSettlementHandler(led, a.logger),
		Pool:       handler.NewPoolHandler(led, a.logger),
		Treasury:   handler.NewTreasuryHandler(led, a.logger),
		Stats:      handler.NewStatsHandler(led, a.logger),
	}
	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		APIKeys:     a.cfg.Server.APIKeys,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiveLoop registers the periodic archival goroutine. Archive runs
// never fail the application; errors are logged and retried next interval.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.logger.InfoContext(ctx, "archive loop started",
			slog.Duration("interval", interval),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)

				if n, err := deps.Archiver.ArchiveInvoices(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "invoice archive failed",
						slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "invoices archived", slog.Int64("count", n))
				}

				if n, err := deps.Archiver.ArchiveEvents(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "event archive failed",
						slog.String("error", err.Error()))
				} else if n > 0 {
					a.logger.InfoContext(ctx, "events archived", slog.Int64("count", n))
				}
			}
		}
	})
}

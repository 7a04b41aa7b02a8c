package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fabrknt/flowguard/internal/liquidity"
	"github.com/fabrknt/flowguard/internal/server"
	"github.com/fabrknt/flowguard/internal/server/handler"
	"github.com/fabrknt/flowguard/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServeMode runs the operator API against the configured venue adapter. The
// audit archive loop stays off.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// PaperMode runs the operator API against the deterministic in-process venue
// with payment claims accepted unchecked. Wire substitutes the sim venue and
// drops the facilitator verifier for this mode.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the operator API plus the audit archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if deps.Blob == nil {
		return fmt.Errorf("full mode: archive storage is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	archiver := service.NewAuditArchiver(
		deps.Stores.Audit,
		deps.Blob,
		a.cfg.Archive.Interval(),
		a.cfg.Archive.BatchSize,
		a.cfg.Archive.Prefix,
		a.logger,
	)
	g.Go(func() error {
		archiver.Run(ctx)
		return ctx.Err()
	})

	return g.Wait()
}

// startHTTPServer constructs the service layer, registers the API server on
// the given errgroup, and arranges graceful shutdown on context cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	positions := service.NewPositionService(deps.Tx, deps.Stores, deps.Locks, a.cfg.Protocol, a.logger)
	decisions := service.NewDecisionService(deps.Tx, deps.Stores, deps.Locks, deps.Limiter, deps.Notifier, a.cfg.Protocol, a.logger)
	approvals := service.NewApprovalService(deps.Tx, deps.Stores, deps.Locks, deps.Notifier, a.logger)
	executions := service.NewExecutionService(deps.Tx, deps.Stores, deps.Locks, deps.Venue, liquidity.Planner{}, a.cfg.Protocol, deps.LocalOnly, a.logger)
	fees := service.NewFeeService(deps.Tx, deps.Stores, deps.Locks, deps.Venue, a.cfg.Protocol, deps.LocalOnly, a.logger)
	access := service.NewAccessService(deps.Tx, deps.Stores, deps.Verifier, a.cfg.Protocol, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow(),
	}, server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Positions:  handler.NewPositionHandler(positions, fees, a.logger),
		Decisions:  handler.NewDecisionHandler(decisions, approvals, a.logger),
		Executions: handler.NewExecutionHandler(executions, a.logger),
		Audit:      handler.NewAuditHandler(deps.Stores.Audit, a.logger),
		Payments:   handler.NewPaymentHandler(access, a.logger),
	}, deps.Limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/jobs"
	"github.com/oddslane/hedgebot/internal/matcher"
	"github.com/oddslane/hedgebot/internal/server"
	"github.com/oddslane/hedgebot/internal/server/handler"
	"github.com/oddslane/hedgebot/internal/server/ws"
	"github.com/oddslane/hedgebot/internal/settlement"
	"github.com/oddslane/hedgebot/internal/trading"
)

// ServerMode serves the HTTP API and websocket feed. Background jobs run on
// HTTP trigger only; schedules belong to the jobs and all modes.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.buildRunner(deps)
	g.Go(func() error { return runner.Start(ctx) })

	a.startNotifier(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, runner)

	return g.Wait()
}

// JobsMode runs the scheduled matcher, settlement, and archive jobs without
// the HTTP surface.
func (a *App) JobsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting jobs mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.buildRunner(deps)
	if err := a.startScheduler(ctx, g, runner); err != nil {
		return err
	}
	g.Go(func() error { return runner.Start(ctx) })

	a.startNotifier(ctx, g, deps)

	return g.Wait()
}

// AllMode runs everything: scheduled jobs plus the HTTP API.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.buildRunner(deps)
	if err := a.startScheduler(ctx, g, runner); err != nil {
		return err
	}
	g.Go(func() error { return runner.Start(ctx) })

	a.startNotifier(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, runner)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false, running without the HTTP API")
	}

	return g.Wait()
}

// buildRunner assembles the matcher and settlement services and the job
// runner that drives them.
func (a *App) buildRunner(deps *Dependencies) *jobs.Runner {
	m := matcher.New(
		deps.Venues[domain.VenuePolymarket],
		deps.Venues[domain.VenueKalshi],
		deps.Pairs,
		deps.Snapshots,
		deps.Bus,
		deps.Audit,
		a.cfg.Matcher,
		a.logger,
	)
	s := settlement.NewService(deps.Trades, deps.Venues, deps.Bus, deps.Audit, a.cfg.Settlement, a.logger)

	return jobs.NewRunner(m, s, deps.Archiver, deps.Locks, deps.Bus, jobs.Config{
		Matcher:    a.cfg.Matcher,
		Settlement: a.cfg.Settlement,
		Archive:    a.cfg.Archive,
	}, a.logger)
}

// startScheduler registers the runner's cron schedules and ties the
// scheduler's lifetime to the context.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, runner *jobs.Runner) error {
	sched := jobs.NewScheduler(ctx, a.logger)
	if err := runner.ScheduleOn(sched); err != nil {
		return err
	}
	sched.Start()
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		return ctx.Err()
	})
	return nil
}

// startNotifier runs the alert fan-out when any sender is configured.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	g.Go(func() error { return deps.Notifier.Run(ctx) })
}

// pingerFunc adapts a function to the health handler's Pinger interface.
type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// startHTTPServer builds the trading service, handlers, and websocket hub,
// then adds the server goroutines to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, runner *jobs.Runner) {
	tradingSvc := trading.NewService(
		deps.Pairs,
		deps.Trades,
		deps.Venues,
		deps.Bus,
		deps.Audit,
		a.cfg.Trading,
		a.logger,
	)

	checks := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	if deps.S3 != nil {
		checks["s3"] = pingerFunc(deps.S3.Health)
	}

	breakers := make(map[string]handler.BreakerStats, len(deps.Guards))
	for venue, gd := range deps.Guards {
		breakers[venue] = gd.Breaker()
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(checks, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), breakers, deps.Trades, deps.Pairs, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.Pairs, a.logger),
		Trades:        handler.NewTradeHandler(tradingSvc, deps.Trades, a.logger),
		Jobs:          handler.NewJobsHandler(runner, a.logger),
		Archives:      handler.NewArchiveHandler(deps.BlobReader, a.logger),
		Audit:         handler.NewAuditHandler(deps.Audit, a.logger),
	}

	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.cfg.Mode, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

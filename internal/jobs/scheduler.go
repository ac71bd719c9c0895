package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/oddslane/hedgebot/internal/domain"
)

// Scheduler drives the runner on cron schedules. Expressions use six fields
// with a leading seconds column, e.g. "0 */5 * * * *" for every five
// minutes.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. Scheduled jobs run on baseCtx, so
// canceling it stops new work at the next tick.
func NewScheduler(baseCtx context.Context, logger *slog.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		baseCtx: baseCtx,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Add registers fn on a six-field cron expression.
func (s *Scheduler) Add(name, spec string, fn func(context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.baseCtx.Err(); err != nil {
			return
		}
		fn(s.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("jobs: schedule %s %q: %w", name, spec, err)
	}
	s.logger.Info("job scheduled",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// Start begins dispatching schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop halts dispatch and blocks until in-flight jobs return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// ScheduleOn registers the runner's configured jobs. An empty expression
// leaves that job trigger-only; the archive job also needs an archiver and
// the enabled flag.
func (r *Runner) ScheduleOn(s *Scheduler) error {
	if spec := r.cfg.Matcher.Schedule; spec != "" {
		if err := s.Add("matcher", spec, func(ctx context.Context) {
			if _, err := r.RunMatcher(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				r.logger.ErrorContext(ctx, "scheduled matcher run failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return err
		}
	}
	if spec := r.cfg.Settlement.Schedule; spec != "" {
		if err := s.Add("settlement", spec, func(ctx context.Context) {
			if _, err := r.RunSettlement(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				r.logger.ErrorContext(ctx, "scheduled settlement run failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return err
		}
	}
	if r.cfg.Archive.Enabled && r.archiver != nil {
		if spec := r.cfg.Archive.Schedule; spec != "" {
			if err := s.Add("archive", spec, func(ctx context.Context) {
				if _, err := r.RunArchive(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
					r.logger.ErrorContext(ctx, "scheduled archive run failed", slog.String("error", err.Error()))
				}
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Package jobs runs the background work that keeps the opportunity cache
// and trade lifecycle current: matcher sweeps, settlement runs, and archive
// exports on cron schedules or HTTP triggers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/matcher"
	"github.com/oddslane/hedgebot/internal/settlement"
)

// Lock keys serialize each job across replicas.
const (
	lockMatcher    = "jobs:matcher"
	lockSettlement = "jobs:settlement"
	lockArchive    = "jobs:archive"
)

// lockMargin pads the lock TTL past the job budget so the lock outlives a
// run that uses its whole timeout.
const lockMargin = 30 * time.Second

const defaultJobTimeout = 5 * time.Minute

// Matcher is the slice of the matcher service the runner drives.
type Matcher interface {
	FindAndCacheOpportunities(ctx context.Context, minSpreadPercent float64) (matcher.Report, error)
}

// Settler is the slice of the settlement service the runner drives.
type Settler interface {
	SettleAllReady(ctx context.Context) (settlement.Report, error)
}

// Config carries the per-job schedules and budgets.
type Config struct {
	Matcher    config.MatcherConfig
	Settlement config.SettlementConfig
	Archive    config.ArchiveConfig
}

// ArchiveReport summarizes one archive run.
type ArchiveReport struct {
	Month          string `json:"month"`
	TradesArchived int64  `json:"trades_archived"`
	PairsArchived  int64  `json:"pairs_archived"`
}

// Runner executes the background jobs. Every run takes a distributed lock
// first, so overlapping schedules, HTTP triggers and extra replicas collapse
// into a single run per job.
type Runner struct {
	matcher  Matcher
	settler  Settler
	archiver domain.Archiver // nil disables the archive job
	locks    domain.LockManager
	bus      domain.EventBus
	cfg      Config
	logger   *slog.Logger

	matcherTrig chan struct{}
	settleTrig  chan struct{}
}

// NewRunner creates a Runner. archiver and bus are optional.
func NewRunner(
	m Matcher,
	s Settler,
	archiver domain.Archiver,
	locks domain.LockManager,
	bus domain.EventBus,
	cfg Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		matcher:     m,
		settler:     s,
		archiver:    archiver,
		locks:       locks,
		bus:         bus,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "jobs")),
		matcherTrig: make(chan struct{}, 1),
		settleTrig:  make(chan struct{}, 1),
	}
}

// Start consumes trigger requests until ctx is canceled. Trigger channels
// hold one pending request each, so hammering a trigger endpoint produces at
// most one queued run.
func (r *Runner) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.matcherTrig:
			if _, err := r.RunMatcher(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				r.logger.ErrorContext(ctx, "triggered matcher run failed", slog.String("error", err.Error()))
			}
		case <-r.settleTrig:
			if _, err := r.RunSettlement(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				r.logger.ErrorContext(ctx, "triggered settlement run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// TriggerMatcher queues an asynchronous matcher run. Returns false when one
// is already queued.
func (r *Runner) TriggerMatcher() bool {
	select {
	case r.matcherTrig <- struct{}{}:
		return true
	default:
		return false
	}
}

// TriggerSettlement queues an asynchronous settlement run. Returns false
// when one is already queued.
func (r *Runner) TriggerSettlement() bool {
	select {
	case r.settleTrig <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunMatcher executes one matcher sweep under the matcher lock.
func (r *Runner) RunMatcher(ctx context.Context) (matcher.Report, error) {
	var report matcher.Report
	err := r.withLock(ctx, lockMatcher, r.cfg.Matcher.JobTimeout.Duration, func(runCtx context.Context) error {
		var err error
		report, err = r.matcher.FindAndCacheOpportunities(runCtx, 0)
		return err
	})
	if err != nil {
		return report, err
	}
	r.publishJob(ctx, "matcher", map[string]any{
		"opportunities_found": report.OpportunitiesFound,
		"pairs_created":       report.PairsCreated,
		"pairs_updated":       report.PairsUpdated,
		"pairs_deactivated":   report.PairsDeactivated,
		"errors":              len(report.Errors),
	})
	return report, nil
}

// RunSettlement executes one settlement run under the settlement lock.
func (r *Runner) RunSettlement(ctx context.Context) (settlement.Report, error) {
	var report settlement.Report
	err := r.withLock(ctx, lockSettlement, r.cfg.Settlement.JobTimeout.Duration, func(runCtx context.Context) error {
		var err error
		report, err = r.settler.SettleAllReady(runCtx)
		return err
	})
	if err != nil {
		return report, err
	}
	r.publishJob(ctx, "settlement", map[string]any{
		"settled": report.Settled,
		"failed":  report.Failed,
		"stale":   report.Stale,
		"errors":  len(report.Errors),
	})
	return report, nil
}

// RunArchive exports one month of settled trades and deactivated pairs to
// cold storage. A nil archiver makes this a no-op.
func (r *Runner) RunArchive(ctx context.Context) (ArchiveReport, error) {
	var report ArchiveReport
	if r.archiver == nil {
		return report, nil
	}
	month := archiveMonth(time.Now().UTC(), r.cfg.Archive.LagMonths)
	report.Month = month.Format("2006-01")

	err := r.withLock(ctx, lockArchive, 0, func(runCtx context.Context) error {
		trades, err := r.archiver.ArchiveSettledTrades(runCtx, month)
		if err != nil {
			return fmt.Errorf("archive settled trades: %w", err)
		}
		report.TradesArchived = trades

		pairs, err := r.archiver.ArchiveInactivePairs(runCtx, month)
		if err != nil {
			return fmt.Errorf("archive inactive pairs: %w", err)
		}
		report.PairsArchived = pairs
		return nil
	})
	if err != nil {
		return report, err
	}
	r.publishJob(ctx, "archive", map[string]any{
		"month":           report.Month,
		"trades_archived": report.TradesArchived,
		"pairs_archived":  report.PairsArchived,
	})
	return report, nil
}

// withLock runs fn under a distributed lock with a per-run timeout. A held
// lock means another run is in flight; the caller gets ErrLockHeld and
// nothing executes.
func (r *Runner) withLock(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	unlock, err := r.locks.Acquire(ctx, key, timeout+lockMargin)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.InfoContext(ctx, "job already running, skipping",
				slog.String("job", key))
			return fmt.Errorf("jobs: %s: %w", key, err)
		}
		return fmt.Errorf("jobs: acquire lock %s: %w", key, err)
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(runCtx)
}

// archiveMonth returns the first day of the month lag months before now.
func archiveMonth(now time.Time, lag int) time.Time {
	if lag < 1 {
		lag = 1
	}
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -lag, 0)
}

func (r *Runner) publishJob(ctx context.Context, job string, detail map[string]any) {
	if r.bus == nil {
		return
	}
	d := map[string]any{"job": job}
	for k, v := range detail {
		d[k] = v
	}
	if err := r.bus.Publish(ctx, domain.Event{Type: domain.EventJobCompleted, At: time.Now().UTC(), Detail: d}); err != nil {
		r.logger.WarnContext(ctx, "event publish failed",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
	}
}

// Package settlement resolves completed trades against venue outcomes and
// sweeps trades whose markets expired without resolving.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
)

const (
	defaultVenueTimeout = 10 * time.Second
	defaultBatchSize    = 100
)

// Service settles trades. One run walks every completed trade, asks both
// venues for the market outcome, and books the realized payout. Trades whose
// markets have not resolved yet are left for the next run.
type Service struct {
	trades domain.TradeStore
	venues map[domain.VenueName]domain.VenueAdapter
	bus    domain.EventBus
	audit  domain.AuditStore
	cfg    config.SettlementConfig
	logger *slog.Logger
}

// NewService creates a settlement Service. bus and audit are optional; a nil
// value disables that side effect.
func NewService(
	trades domain.TradeStore,
	venues map[domain.VenueName]domain.VenueAdapter,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg config.SettlementConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		trades: trades,
		venues: venues,
		bus:    bus,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "settlement")),
	}
}

// Report summarizes one settlement run.
type Report struct {
	Settled int      `json:"settled"`
	Failed  int      `json:"failed"`
	Stale   int      `json:"stale"`
	Errors  []string `json:"errors,omitempty"`
}

// SettleAllReady settles every completed trade whose markets have resolved,
// then marks trades stranded past their deadline as stale. One bad trade
// never aborts the run: its error is recorded and the walk continues.
func (s *Service) SettleAllReady(ctx context.Context) (Report, error) {
	var report Report
	start := time.Now().UTC()

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	trades, err := s.trades.ListByStatus(ctx, domain.TradeStatusCompleted, domain.ListOpts{Limit: batch})
	if err != nil {
		return report, fmt.Errorf("settlement: list completed trades: %w", err)
	}

	var skipped int
	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		settled, err := s.settleOne(ctx, trade)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("trade %s: %v", trade.ID, err))
			s.logger.WarnContext(ctx, "trade settlement failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		case settled:
			report.Settled++
		default:
			skipped++
		}
	}

	stale, staleErrs := s.sweepStale(ctx, start, batch)
	report.Stale = stale
	report.Errors = append(report.Errors, staleErrs...)
	report.Failed += len(staleErrs)

	s.writeAudit(ctx, "settlement_run", map[string]any{
		"settled":     report.Settled,
		"failed":      report.Failed,
		"stale":       report.Stale,
		"skipped":     skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	s.logger.InfoContext(ctx, "settlement run complete",
		slog.Int("settled", report.Settled),
		slog.Int("failed", report.Failed),
		slog.Int("stale", report.Stale),
		slog.Int("unresolved", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// settleOne asks both venues for their outcome and books the payout. Returns
// false with no error when either market has not resolved yet.
func (s *Service) settleOne(ctx context.Context, trade domain.ArbitrageTrade) (bool, error) {
	res1, err := s.resolution(ctx, trade.Leg1.Venue, trade.Leg1.MarketID)
	if err != nil {
		return false, fmt.Errorf("resolve %s market %s: %w", trade.Leg1.Venue, trade.Leg1.MarketID, err)
	}
	res2, err := s.resolution(ctx, trade.Leg2.Venue, trade.Leg2.MarketID)
	if err != nil {
		return false, fmt.Errorf("resolve %s market %s: %w", trade.Leg2.Venue, trade.Leg2.MarketID, err)
	}
	if !res1.Resolved || !res2.Resolved {
		return false, nil
	}

	// Each leg pays on its own venue's outcome. Shares already sold by an
	// early close carry a zero count and add nothing here.
	var payout int64
	if trade.Leg1.Side == res1.WinningSide {
		payout += domain.PayoutOfShares(trade.Leg1.SharesMicros, res1.PayoutPerShare)
	}
	if trade.Leg2.Side == res2.WinningSide {
		payout += domain.PayoutOfShares(trade.Leg2.SharesMicros, res2.PayoutPerShare)
	}

	now := time.Now().UTC()
	actual := trade.RealizedBase() + payout
	persistCtx := context.WithoutCancel(ctx)
	if err := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusCompleted, domain.TradeStatusSettled, domain.TradeUpdate{
		ActualProfit: &actual,
		SettledAt:    &now,
	}); err != nil {
		return false, fmt.Errorf("mark settled: %w", err)
	}
	trade.Status = domain.TradeStatusSettled
	trade.ActualProfit = &actual

	s.publish(persistCtx, domain.EventTradeSettled, trade, map[string]any{
		"payout":        payout,
		"actual_profit": actual,
	})
	s.logger.InfoContext(ctx, "trade settled",
		slog.String("trade_id", trade.ID),
		slog.Int64("payout", payout),
		slog.Int64("actual_profit", actual),
	)
	return true, nil
}

// sweepStale marks non-terminal trades stranded past their market deadline
// plus the configured grace. Their outcome is unknown, so no profit is
// booked.
func (s *Service) sweepStale(ctx context.Context, now time.Time, batch int) (int, []string) {
	grace := s.cfg.StaleAfter.Duration
	if grace <= 0 {
		return 0, nil
	}
	expired, err := s.trades.ListExpired(ctx, now.Add(-grace), batch)
	if err != nil {
		return 0, []string{fmt.Sprintf("list expired trades: %v", err)}
	}

	var count int
	var errs []string
	reason := fmt.Sprintf("unresolved %s past market deadline", grace)
	persistCtx := context.WithoutCancel(ctx)
	for _, trade := range expired {
		prior := trade.Status
		if err := s.trades.Transition(persistCtx, trade.ID, prior, domain.TradeStatusStale, domain.TradeUpdate{
			FailureReason: &reason,
		}); err != nil {
			errs = append(errs, fmt.Sprintf("trade %s: mark stale: %v", trade.ID, err))
			continue
		}
		count++
		trade.Status = domain.TradeStatusStale
		s.publish(persistCtx, domain.EventTradeStale, trade, map[string]any{"reason": reason})
		s.logger.WarnContext(ctx, "trade marked stale",
			slog.String("trade_id", trade.ID),
			slog.String("prior_status", string(prior)),
		)
	}
	return count, errs
}

func (s *Service) resolution(ctx context.Context, name domain.VenueName, marketID string) (domain.Resolution, error) {
	venue, ok := s.venues[name]
	if !ok || venue == nil {
		return domain.Resolution{}, fmt.Errorf("no adapter configured for venue %s", name)
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultVenueTimeout)
	defer cancel()
	return venue.GetResolution(callCtx, marketID)
}

func (s *Service) publish(ctx context.Context, typ domain.EventType, trade domain.ArbitrageTrade, extra map[string]any) {
	if s.bus == nil {
		return
	}
	detail := map[string]any{
		"trade_id":       trade.ID,
		"user_id":        trade.UserID,
		"opportunity_id": trade.OpportunityID,
		"status":         string(trade.Status),
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := s.bus.Publish(ctx, domain.Event{Type: typ, At: time.Now().UTC(), Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) writeAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Package trading opens, values, and unwinds two-legged hedged positions on
// cached cross-venue opportunities.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
)

const defaultVenueTimeout = 10 * time.Second

// Service executes arbitrage trades. Every opportunity is re-validated
// against live venue quotes before any money moves, and leg 1 always
// executes before leg 2.
type Service struct {
	pairs  domain.PairStore
	trades domain.TradeStore
	venues map[domain.VenueName]domain.VenueAdapter
	bus    domain.EventBus
	audit  domain.AuditStore
	cfg    config.TradingConfig
	logger *slog.Logger
}

// NewService creates a trading Service. bus and audit are optional; a nil
// value disables that side effect.
func NewService(
	pairs domain.PairStore,
	trades domain.TradeStore,
	venues map[domain.VenueName]domain.VenueAdapter,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg config.TradingConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		pairs:  pairs,
		trades: trades,
		venues: venues,
		bus:    bus,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "trading")),
	}
}

// ExecuteRequest asks for one hedged position.
type ExecuteRequest struct {
	UserID           string `json:"user_id"`
	OpportunityID    string `json:"opportunity_id"`
	InvestmentAmount int64  `json:"investment_amount"` // minor units
}

func (r ExecuteRequest) validate(cfg config.TradingConfig) error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("trading: %w: user_id is required", domain.ErrValidation)
	case strings.TrimSpace(r.OpportunityID) == "":
		return fmt.Errorf("trading: %w: opportunity_id is required", domain.ErrValidation)
	case r.InvestmentAmount < cfg.MinInvestment:
		return fmt.Errorf("trading: %w: investment %d below minimum %d", domain.ErrValidation, r.InvestmentAmount, cfg.MinInvestment)
	case cfg.MaxInvestment > 0 && r.InvestmentAmount > cfg.MaxInvestment:
		return fmt.Errorf("trading: %w: investment %d above maximum %d", domain.ErrValidation, r.InvestmentAmount, cfg.MaxInvestment)
	}
	return nil
}

// ExecuteArbitrage re-validates the opportunity against live quotes, splits
// the investment across both legs, and executes them in sequence. Stale
// opportunities are rejected with ErrStaleOpportunity before any trade row
// is written. Once leg 1 commits, the trade always lands in a persisted
// state: failed when leg 1 is rejected, partial when leg 2 is rejected
// afterwards, completed when both fill.
func (s *Service) ExecuteArbitrage(ctx context.Context, req ExecuteRequest) (domain.ArbitrageTrade, error) {
	if err := req.validate(s.cfg); err != nil {
		return domain.ArbitrageTrade{}, err
	}

	pair, err := s.pairs.GetByID(ctx, req.OpportunityID)
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: load opportunity %s: %w", req.OpportunityID, err)
	}
	now := time.Now().UTC()
	if !pair.Active {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: opportunity %s: %w: deactivated by matcher", pair.ID, domain.ErrStaleOpportunity)
	}
	if !pair.Deadline.IsZero() && !pair.Deadline.After(now) {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: opportunity %s: %w: market deadline passed", pair.ID, domain.ErrStaleOpportunity)
	}

	m1, err := s.liveMarket(ctx, pair.Market1Venue, pair.Market1ID)
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: revalidate %s market %s: %w", pair.Market1Venue, pair.Market1ID, err)
	}
	m2, err := s.liveMarket(ctx, pair.Market2Venue, pair.Market2ID)
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: revalidate %s market %s: %w", pair.Market2Venue, pair.Market2ID, err)
	}
	if !m1.Active || !m2.Active {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: opportunity %s: %w: market no longer trading", pair.ID, domain.ErrStaleOpportunity)
	}

	spread := domain.SpreadPercent(m1.YesTicks, m2.YesTicks)
	if spread < s.cfg.MinSpreadPercent {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: opportunity %s: %w: live spread %.2f%% below %.2f%% floor",
			pair.ID, domain.ErrStaleOpportunity, spread, s.cfg.MinSpreadPercent)
	}

	// The venue with the cheaper YES takes the YES leg; the other hedges
	// with NO. Exactly one leg pays out whichever way the event resolves.
	leg1Side, leg2Side := domain.SideYes, domain.SideNo
	leg1Price, leg2Price := m1.YesTicks, m2.NoTicks()
	if m1.YesTicks > m2.YesTicks {
		leg1Side, leg2Side = domain.SideNo, domain.SideYes
		leg1Price, leg2Price = m1.NoTicks(), m2.YesTicks
	}

	alloc, err := allocate(req.InvestmentAmount, leg1Price, leg2Price)
	if err != nil {
		return domain.ArbitrageTrade{}, err
	}

	trade := domain.ArbitrageTrade{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		OpportunityID:    pair.ID,
		InvestmentAmount: req.InvestmentAmount,
		Leg1: domain.TradeLeg{
			Venue: pair.Market1Venue, MarketID: pair.Market1ID,
			Side: leg1Side, Amount: alloc.Leg1Amount,
		},
		Leg2: domain.TradeLeg{
			Venue: pair.Market2Venue, MarketID: pair.Market2ID,
			Side: leg2Side, Amount: alloc.Leg2Amount,
		},
		Status:         domain.TradeStatusPending,
		ExpectedProfit: alloc.ExpectedProfit,
		CreatedAt:      now,
	}
	if err := s.trades.Create(ctx, trade); err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: create trade: %w", err)
	}

	s.logger.InfoContext(ctx, "trade accepted",
		slog.String("trade_id", trade.ID),
		slog.String("opportunity_id", pair.ID),
		slog.Int64("investment", req.InvestmentAmount),
		slog.Float64("live_spread_percent", spread),
		slog.Int64("expected_profit", alloc.ExpectedProfit),
	)
	return s.executeLegs(ctx, trade)
}

// executeLegs places both orders in sequence. Once leg 1 commits, every
// outcome is persisted on a context that survives caller cancellation: a
// committed leg is never rolled back by a timeout.
func (s *Service) executeLegs(ctx context.Context, trade domain.ArbitrageTrade) (domain.ArbitrageTrade, error) {
	persistCtx := context.WithoutCancel(ctx)

	res1, err := s.placeLeg(ctx, trade.Leg1)
	if err != nil {
		trade.Leg1.Error = err.Error()
		reason := fmt.Sprintf("leg 1 (%s) rejected: %v", trade.Leg1.Venue, err)
		trade.FailureReason = reason
		trade.Status = domain.TradeStatusFailed
		if terr := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusPending, domain.TradeStatusFailed, domain.TradeUpdate{
			Leg1:          &trade.Leg1,
			FailureReason: &reason,
		}); terr != nil {
			s.logger.ErrorContext(ctx, "failed trade not recorded",
				slog.String("trade_id", trade.ID),
				slog.String("error", terr.Error()),
			)
		}
		s.publish(persistCtx, domain.EventTradeFailed, trade, map[string]any{"reason": reason})
		s.logger.WarnContext(ctx, "leg 1 rejected, no position opened",
			slog.String("trade_id", trade.ID),
			slog.String("venue", string(trade.Leg1.Venue)),
			slog.String("error", err.Error()),
		)
		return trade, nil
	}
	applyFill(&trade.Leg1, res1)

	// Persist leg 1 before attempting leg 2 so a crash between the two
	// still leaves an accurate record of the open half.
	if terr := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusPending, domain.TradeStatusPending, domain.TradeUpdate{
		Leg1: &trade.Leg1,
	}); terr != nil {
		s.logger.ErrorContext(ctx, "leg 1 fill not persisted",
			slog.String("trade_id", trade.ID),
			slog.String("error", terr.Error()),
		)
	}

	res2, err := s.placeLeg(ctx, trade.Leg2)
	if err != nil {
		trade.Leg2.Error = err.Error()
		reason := fmt.Sprintf("leg 2 (%s) rejected after leg 1 committed: %v", trade.Leg2.Venue, err)
		trade.FailureReason = reason
		trade.Status = domain.TradeStatusPartial
		if terr := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusPending, domain.TradeStatusPartial, domain.TradeUpdate{
			Leg1:          &trade.Leg1,
			Leg2:          &trade.Leg2,
			FailureReason: &reason,
		}); terr != nil {
			s.logger.ErrorContext(ctx, "partial trade not recorded",
				slog.String("trade_id", trade.ID),
				slog.String("error", terr.Error()),
			)
		}
		s.publish(persistCtx, domain.EventTradePartial, trade, map[string]any{
			"reason":        reason,
			"leg1_order_id": res1.OrderID,
		})
		s.logger.ErrorContext(ctx, "leg 2 rejected, unhedged position open",
			slog.String("trade_id", trade.ID),
			slog.String("venue", string(trade.Leg2.Venue)),
			slog.String("leg1_order_id", res1.OrderID),
			slog.String("error", err.Error()),
		)
		return trade, nil
	}
	applyFill(&trade.Leg2, res2)

	trade.Status = domain.TradeStatusCompleted
	if terr := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusPending, domain.TradeStatusCompleted, domain.TradeUpdate{
		Leg1: &trade.Leg1,
		Leg2: &trade.Leg2,
	}); terr != nil {
		s.logger.ErrorContext(ctx, "completed trade not recorded",
			slog.String("trade_id", trade.ID),
			slog.String("error", terr.Error()),
		)
	}
	s.publish(persistCtx, domain.EventTradeCompleted, trade, map[string]any{
		"total_cost":      trade.TotalCost(),
		"expected_profit": trade.ExpectedProfit,
	})
	s.writeAudit(persistCtx, "trade_executed", map[string]any{
		"trade_id":        trade.ID,
		"user_id":         trade.UserID,
		"opportunity_id":  trade.OpportunityID,
		"investment":      trade.InvestmentAmount,
		"total_cost":      trade.TotalCost(),
		"expected_profit": trade.ExpectedProfit,
		"leg1_order_id":   res1.OrderID,
		"leg2_order_id":   res2.OrderID,
	})
	s.logger.InfoContext(ctx, "both legs filled",
		slog.String("trade_id", trade.ID),
		slog.Int64("total_cost", trade.TotalCost()),
		slog.Int64("expected_profit", trade.ExpectedProfit),
	)
	return trade, nil
}

// applyFill records a venue confirmation on a leg. The cost basis is
// recomputed from the actual fill, which can come in under the requested
// spend when the venue trades whole contracts.
func applyFill(leg *domain.TradeLeg, res domain.OrderResult) {
	orderID := res.OrderID
	leg.OrderID = &orderID
	leg.SharesMicros = res.SharesReceived
	leg.PriceTicks = res.ExecutionPrice
	if cost := domain.CostOfShares(res.SharesReceived, res.ExecutionPrice); cost > 0 && cost < leg.Amount {
		leg.Amount = cost
	}
}

// CalculatePnL reports the profit picture of a trade: per-leg cost and
// payout from its recorded fills, and for open positions a best-effort mark
// against live quotes. Read-only: nothing is mutated.
func (s *Service) CalculatePnL(ctx context.Context, tradeID string) (PnLReport, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return PnLReport{}, fmt.Errorf("trading: load trade %s: %w", tradeID, err)
	}
	report := buildPnL(trade)
	if trade.Status == domain.TradeStatusCompleted || trade.Status == domain.TradeStatusPartial {
		if mark, ok := s.markToMarket(ctx, trade); ok {
			report.MarkProfit = &mark
		}
	}
	return report, nil
}

// markToMarket values held shares at live quotes on top of the realized
// balance. Best-effort: a venue outage leaves the mark unset rather than
// failing the report.
func (s *Service) markToMarket(ctx context.Context, t domain.ArbitrageTrade) (int64, bool) {
	value := t.RealizedBase()
	for _, leg := range []domain.TradeLeg{t.Leg1, t.Leg2} {
		if !leg.Executed() || leg.SharesMicros == 0 {
			continue
		}
		m, err := s.liveMarket(ctx, leg.Venue, leg.MarketID)
		if err != nil {
			s.logger.WarnContext(ctx, "mark-to-market quote unavailable",
				slog.String("trade_id", t.ID),
				slog.String("venue", string(leg.Venue)),
				slog.String("error", err.Error()),
			)
			return 0, false
		}
		ticks := m.YesTicks
		if leg.Side == domain.SideNo {
			ticks = m.NoTicks()
		}
		value += domain.CostOfShares(leg.SharesMicros, ticks)
	}
	return value, true
}

// ClosePositions resolves a trade's open exposure. A partial trade gets one
// attempt to buy the missing leg at live prices when the spread still
// qualifies (landing on completed); otherwise whatever the trade holds is
// sold and it lands on a terminal status: failed for an abandoned partial
// hedge, settled for a completed trade exited before resolution.
// Already-terminal trades return unchanged, so the call is safe to repeat;
// legs sold by an earlier attempt are skipped because their share count is
// already zero.
func (s *Service) ClosePositions(ctx context.Context, tradeID string) (domain.ArbitrageTrade, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: load trade %s: %w", tradeID, err)
	}
	if trade.Status.Terminal() {
		return trade, nil
	}
	if trade.Status == domain.TradeStatusPending {
		return trade, fmt.Errorf("trading: close trade %s: %w: execution in progress", tradeID, domain.ErrInvalidTransition)
	}

	persistCtx := context.WithoutCancel(ctx)

	if trade.Status == domain.TradeStatusPartial && s.rehedge(ctx, persistCtx, &trade) {
		return trade, nil
	}

	// Unwind in execution order. Each sale is persisted before the next so
	// a retry after a mid-close failure never sells the same leg twice.
	if trade.Leg1.Executed() && trade.Leg1.SharesMicros > 0 {
		if err := s.unwindLeg(ctx, persistCtx, &trade, &trade.Leg1, 1); err != nil {
			return trade, err
		}
	}
	if trade.Leg2.Executed() && trade.Leg2.SharesMicros > 0 {
		if err := s.unwindLeg(ctx, persistCtx, &trade, &trade.Leg2, 2); err != nil {
			return trade, err
		}
	}

	now := time.Now().UTC()
	final := domain.TradeStatusSettled
	var reason *string
	if trade.Status == domain.TradeStatusPartial {
		final = domain.TradeStatusFailed
		r := "position closed before hedge completed"
		reason = &r
		trade.FailureReason = r
	}
	profit := trade.RealizedBase()
	if err := s.trades.Transition(persistCtx, trade.ID, trade.Status, final, domain.TradeUpdate{
		ActualProfit:  &profit,
		FailureReason: reason,
		SettledAt:     &now,
	}); err != nil {
		return trade, fmt.Errorf("trading: finalize close of trade %s: %w", tradeID, err)
	}
	trade.Status = final
	trade.ActualProfit = &profit
	trade.SettledAt = &now

	s.publish(persistCtx, domain.EventTradeClosed, trade, map[string]any{"actual_profit": profit})
	s.writeAudit(persistCtx, "positions_closed", map[string]any{
		"trade_id":      trade.ID,
		"final_status":  string(final),
		"actual_profit": profit,
	})
	s.logger.InfoContext(ctx, "positions closed",
		slog.String("trade_id", trade.ID),
		slog.String("final_status", string(final)),
		slog.Int64("actual_profit", profit),
	)
	return trade, nil
}

// rehedge tries once to complete an abandoned hedge: it buys the missing
// leg enough shares to match the held side, at live prices. It qualifies
// only when both markets still trade, the live spread clears the execution
// floor, and the buy fits inside the capital the trade has not yet
// committed. Anything else falls back to unwinding.
func (s *Service) rehedge(ctx, persistCtx context.Context, trade *domain.ArbitrageTrade) bool {
	held, missing := &trade.Leg1, &trade.Leg2
	if !held.Executed() {
		held, missing = missing, held
	}
	if missing.Executed() || !held.Executed() || held.SharesMicros <= 0 {
		return false
	}

	mHeld, err := s.liveMarket(ctx, held.Venue, held.MarketID)
	if err != nil {
		s.logger.WarnContext(ctx, "rehedge quote unavailable, unwinding",
			slog.String("trade_id", trade.ID),
			slog.String("venue", string(held.Venue)),
			slog.String("error", err.Error()),
		)
		return false
	}
	mMissing, err := s.liveMarket(ctx, missing.Venue, missing.MarketID)
	if err != nil {
		s.logger.WarnContext(ctx, "rehedge quote unavailable, unwinding",
			slog.String("trade_id", trade.ID),
			slog.String("venue", string(missing.Venue)),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !mHeld.Active || !mMissing.Active {
		return false
	}

	spread := domain.SpreadPercent(mHeld.YesTicks, mMissing.YesTicks)
	if spread < s.cfg.MinSpreadPercent {
		s.logger.InfoContext(ctx, "rehedge no longer qualifies, unwinding",
			slog.String("trade_id", trade.ID),
			slog.Float64("live_spread_percent", spread),
		)
		return false
	}

	ticks := mMissing.YesTicks
	if missing.Side == domain.SideNo {
		ticks = mMissing.NoTicks()
	}
	spend := domain.CostOfShares(held.SharesMicros, ticks)
	budget := trade.InvestmentAmount - held.Amount
	if spend <= 0 || spend > budget {
		s.logger.InfoContext(ctx, "rehedge exceeds remaining budget, unwinding",
			slog.String("trade_id", trade.ID),
			slog.Int64("spend", spend),
			slog.Int64("budget", budget),
		)
		return false
	}

	attempt := *missing
	attempt.Amount = spend
	res, err := s.placeLeg(ctx, attempt)
	if err != nil {
		s.logger.WarnContext(ctx, "rehedge order rejected, unwinding",
			slog.String("trade_id", trade.ID),
			slog.String("venue", string(missing.Venue)),
			slog.String("error", err.Error()),
		)
		return false
	}
	missing.Amount = spend
	missing.Error = ""
	applyFill(missing, res)

	var cleared string
	if terr := s.trades.Transition(persistCtx, trade.ID, domain.TradeStatusPartial, domain.TradeStatusCompleted, domain.TradeUpdate{
		Leg1:          &trade.Leg1,
		Leg2:          &trade.Leg2,
		FailureReason: &cleared,
	}); terr != nil {
		s.logger.ErrorContext(ctx, "rehedged trade not recorded",
			slog.String("trade_id", trade.ID),
			slog.String("error", terr.Error()),
		)
	}
	trade.Status = domain.TradeStatusCompleted
	trade.FailureReason = ""

	s.publish(persistCtx, domain.EventTradeCompleted, *trade, map[string]any{"rehedged": true})
	s.writeAudit(persistCtx, "trade_rehedged", map[string]any{
		"trade_id": trade.ID,
		"venue":    string(missing.Venue),
		"spend":    spend,
		"order_id": res.OrderID,
	})
	s.logger.InfoContext(ctx, "missing leg filled, hedge completed",
		slog.String("trade_id", trade.ID),
		slog.String("venue", string(missing.Venue)),
		slog.Int64("spend", spend),
	)
	return true
}

// unwindLeg sells one leg at market and persists the sale on the trade row.
func (s *Service) unwindLeg(ctx, persistCtx context.Context, trade *domain.ArbitrageTrade, leg *domain.TradeLeg, n int) error {
	venue, err := s.venueFor(leg.Venue)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.venueTimeout())
	defer cancel()

	res, err := venue.PlaceOrder(callCtx, domain.OrderRequest{
		MarketID: leg.MarketID,
		Side:     leg.Side,
		Action:   domain.ActionSell,
		Amount:   leg.SharesMicros,
	})
	if err != nil {
		return fmt.Errorf("trading: close trade %s leg %d on %s: %w", trade.ID, n, leg.Venue, err)
	}

	proceeds := domain.CostOfShares(res.SharesReceived, res.ExecutionPrice)
	profit := trade.RealizedBase() + proceeds
	leg.SharesMicros = 0

	upd := domain.TradeUpdate{ActualProfit: &profit}
	if n == 1 {
		upd.Leg1 = leg
	} else {
		upd.Leg2 = leg
	}
	if terr := s.trades.Transition(persistCtx, trade.ID, trade.Status, trade.Status, upd); terr != nil {
		return fmt.Errorf("trading: record leg %d close of trade %s: %w", n, trade.ID, terr)
	}
	trade.ActualProfit = &profit

	s.logger.InfoContext(ctx, "leg unwound",
		slog.String("trade_id", trade.ID),
		slog.Int("leg", n),
		slog.String("venue", string(leg.Venue)),
		slog.Int64("proceeds", proceeds),
	)
	return nil
}

// GetTrade loads one trade.
func (s *Service) GetTrade(ctx context.Context, tradeID string) (domain.ArbitrageTrade, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("trading: load trade %s: %w", tradeID, err)
	}
	return trade, nil
}

// GetUserTrades lists a user's trades, newest first.
func (s *Service) GetUserTrades(ctx context.Context, userID string, f domain.TradeFilter) ([]domain.ArbitrageTrade, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("trading: %w: user id is required", domain.ErrValidation)
	}
	if f.Status != "" && !knownStatus(f.Status) {
		return nil, fmt.Errorf("trading: %w: unknown status %q", domain.ErrValidation, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	trades, err := s.trades.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("trading: list trades for user %s: %w", userID, err)
	}
	return trades, nil
}

func knownStatus(st domain.TradeStatus) bool {
	switch st {
	case domain.TradeStatusPending, domain.TradeStatusPartial, domain.TradeStatusCompleted,
		domain.TradeStatusSettled, domain.TradeStatusFailed, domain.TradeStatusStale:
		return true
	}
	return false
}

func (s *Service) venueFor(name domain.VenueName) (domain.VenueAdapter, error) {
	venue, ok := s.venues[name]
	if !ok || venue == nil {
		return nil, fmt.Errorf("trading: no adapter configured for venue %s", name)
	}
	return venue, nil
}

func (s *Service) venueTimeout() time.Duration {
	if d := s.cfg.VenueTimeout.Duration; d > 0 {
		return d
	}
	return defaultVenueTimeout
}

func (s *Service) liveMarket(ctx context.Context, name domain.VenueName, marketID string) (domain.Market, error) {
	venue, err := s.venueFor(name)
	if err != nil {
		return domain.Market{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.venueTimeout())
	defer cancel()
	return venue.GetMarket(callCtx, marketID)
}

func (s *Service) placeLeg(ctx context.Context, leg domain.TradeLeg) (domain.OrderResult, error) {
	venue, err := s.venueFor(leg.Venue)
	if err != nil {
		return domain.OrderResult{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.venueTimeout())
	defer cancel()
	return venue.PlaceOrder(callCtx, domain.OrderRequest{
		MarketID: leg.MarketID,
		Side:     leg.Side,
		Action:   domain.ActionBuy,
		Amount:   leg.Amount,
	})
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

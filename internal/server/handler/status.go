package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddslane/hedgebot/internal/guard"
)

// BreakerStats exposes one protective wrapper's counters for reporting.
type BreakerStats interface {
	Metrics() guard.BreakerMetrics
}

// TradeCounter is the slice of the trade store the status endpoint reads.
type TradeCounter interface {
	Count(ctx context.Context) (int64, error)
	SumProfit(ctx context.Context, since time.Time) (int64, error)
}

// PairCounter is the slice of the pair store the status endpoint reads.
type PairCounter interface {
	Count(ctx context.Context, activeOnly bool) (int64, error)
}

// StatusHandler serves operational status: mode, uptime, per-venue breaker
// state, and headline counters.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	breakers  map[string]BreakerStats
	trades    TradeCounter
	pairs     PairCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. breakers maps venue name to its
// guard's breaker; trades and pairs may be nil.
func NewStatusHandler(mode string, startedAt time.Time, breakers map[string]BreakerStats, trades TradeCounter, pairs PairCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		breakers:  breakers,
		trades:    trades,
		pairs:     pairs,
		logger:    logger,
	}
}

// GetStatus reports runtime status. Counter lookups are best effort: a
// failing store logs a warning and drops the field rather than failing the
// whole endpoint.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	venues := make(map[string]guard.BreakerMetrics, len(h.breakers))
	for venue, b := range h.breakers {
		venues[venue] = b.Metrics()
	}
	body["venues"] = venues

	if h.trades != nil {
		if n, err := h.trades.Count(ctx); err != nil {
			h.logger.WarnContext(ctx, "trade count failed", slog.String("error", err.Error()))
		} else {
			body["total_trades"] = n
		}
		since := time.Now().UTC().AddDate(0, 0, -30)
		if p, err := h.trades.SumProfit(ctx, since); err != nil {
			h.logger.WarnContext(ctx, "profit sum failed", slog.String("error", err.Error()))
		} else {
			body["realized_profit_30d"] = p
		}
	}
	if h.pairs != nil {
		if n, err := h.pairs.Count(ctx, true); err != nil {
			h.logger.WarnContext(ctx, "pair count failed", slog.String("error", err.Error()))
		} else {
			body["active_opportunities"] = n
		}
	}

	writeJSON(w, http.StatusOK, body)
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/trading"
)

// TradingService is the slice of the trading service the trade endpoints
// call.
type TradingService interface {
	ExecuteArbitrage(ctx context.Context, req trading.ExecuteRequest) (domain.ArbitrageTrade, error)
	ClosePositions(ctx context.Context, tradeID string) (domain.ArbitrageTrade, error)
	CalculatePnL(ctx context.Context, tradeID string) (trading.PnLReport, error)
	GetUserTrades(ctx context.Context, userID string, f domain.TradeFilter) ([]domain.ArbitrageTrade, error)
}

// TradeReader fetches single trades for the read endpoints.
type TradeReader interface {
	GetByID(ctx context.Context, id string) (domain.ArbitrageTrade, error)
}

// TradeHandler serves trade execution, valuation, and history endpoints.
type TradeHandler struct {
	svc    TradingService
	trades TradeReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(svc TradingService, trades TradeReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{svc: svc, trades: trades, logger: logger}
}

// Execute opens one hedged position on a cached opportunity. The response
// carries the persisted trade whatever its final status: a partial fill is
// a 201 with status "partial", not an error.
// POST /api/arbitrage/execute
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req trading.ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	trade, err := h.svc.ExecuteArbitrage(r.Context(), req)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// listTradesResponse wraps the trade listing.
type listTradesResponse struct {
	Trades []domain.ArbitrageTrade `json:"trades"`
	Count  int                     `json:"count"`
}

// List returns one user's trades, optionally filtered by status.
// GET /api/trades?user_id=u-1&status=completed&settled=true&limit=50&offset=0
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	filter := domain.TradeFilter{
		Status: domain.TradeStatus(q.Get("status")),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if v := q.Get("settled"); v != "" {
		settled, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "settled must be a boolean")
			return
		}
		filter.SettledOnly = settled
	}

	trades, err := h.svc.GetUserTrades(r.Context(), q.Get("user_id"), filter)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	if trades == nil {
		trades = []domain.ArbitrageTrade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Count: len(trades)})
}

// Get returns one trade by id.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// PnL returns the profit breakdown for one trade.
// GET /api/trades/{id}/pnl
func (h *TradeHandler) PnL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	report, err := h.svc.CalculatePnL(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Close unwinds or completes one trade's open positions at live prices.
// POST /api/trades/{id}/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.svc.ClosePositions(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

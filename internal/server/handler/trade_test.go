package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/trading"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTradingService struct {
	trade  domain.ArbitrageTrade
	trades []domain.ArbitrageTrade
	report trading.PnLReport
	err    error

	gotExec   trading.ExecuteRequest
	gotClose  string
	gotUser   string
	gotFilter domain.TradeFilter
}

func (s *fakeTradingService) ExecuteArbitrage(_ context.Context, req trading.ExecuteRequest) (domain.ArbitrageTrade, error) {
	s.gotExec = req
	return s.trade, s.err
}

func (s *fakeTradingService) ClosePositions(_ context.Context, tradeID string) (domain.ArbitrageTrade, error) {
	s.gotClose = tradeID
	return s.trade, s.err
}

func (s *fakeTradingService) CalculatePnL(_ context.Context, tradeID string) (trading.PnLReport, error) {
	return s.report, s.err
}

func (s *fakeTradingService) GetUserTrades(_ context.Context, userID string, f domain.TradeFilter) ([]domain.ArbitrageTrade, error) {
	s.gotUser = userID
	s.gotFilter = f
	return s.trades, s.err
}

type fakeTradeReader struct {
	trade domain.ArbitrageTrade
	err   error
	gotID string
}

func (r *fakeTradeReader) GetByID(_ context.Context, id string) (domain.ArbitrageTrade, error) {
	r.gotID = id
	return r.trade, r.err
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestExecuteReturnsCreatedTrade(t *testing.T) {
	svc := &fakeTradingService{trade: domain.ArbitrageTrade{
		ID:     "t-1",
		UserID: "u-1",
		Status: domain.TradeStatusPartial,
	}}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/execute",
		strings.NewReader(`{"user_id":"u-1","opportunity_id":"p-1","investment_amount":1000}`))
	rec := httptest.NewRecorder()
	h.Execute(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if svc.gotExec.OpportunityID != "p-1" || svc.gotExec.InvestmentAmount != 1000 {
		t.Errorf("decoded request = %+v", svc.gotExec)
	}
	// A partial fill is still a created trade, not an error response.
	body := decodeMap(t, rec)
	if body["Status"] != "partial" {
		t.Errorf("Status = %v, want partial", body["Status"])
	}
}

func TestExecuteRejectsUnknownFields(t *testing.T) {
	h := NewTradeHandler(&fakeTradingService{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/execute",
		strings.NewReader(`{"user_id":"u-1","oportunity_id":"p-1"}`))
	rec := httptest.NewRecorder()
	h.Execute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteMapsStaleOpportunityToConflict(t *testing.T) {
	svc := &fakeTradingService{err: fmt.Errorf("trading: opportunity p-1: %w: deactivated by matcher", domain.ErrStaleOpportunity)}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/execute",
		strings.NewReader(`{"user_id":"u-1","opportunity_id":"p-1","investment_amount":1000}`))
	rec := httptest.NewRecorder()
	h.Execute(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(decodeMap(t, rec)["error"].(string), "deactivated by matcher") {
		t.Errorf("error text lost: %s", rec.Body.String())
	}
}

func TestExecuteMasksUnmappedErrors(t *testing.T) {
	svc := &fakeTradingService{err: errors.New("pgx: connection refused")}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/execute",
		strings.NewReader(`{"user_id":"u-1","opportunity_id":"p-1","investment_amount":1000}`))
	rec := httptest.NewRecorder()
	h.Execute(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != "internal server error" {
		t.Errorf("error = %v, want masked message", got)
	}
}

func TestListTradesParsesFilter(t *testing.T) {
	svc := &fakeTradingService{trades: []domain.ArbitrageTrade{{ID: "t-1"}, {ID: "t-2"}}}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades?user_id=u-1&status=completed&settled=true&limit=10&offset=20", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotUser != "u-1" {
		t.Errorf("user = %q", svc.gotUser)
	}
	want := domain.TradeFilter{Status: domain.TradeStatusCompleted, SettledOnly: true, Limit: 10, Offset: 20}
	if svc.gotFilter != want {
		t.Errorf("filter = %+v, want %+v", svc.gotFilter, want)
	}
	body := decodeMap(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestListTradesRejectsBadSettledFlag(t *testing.T) {
	h := NewTradeHandler(&fakeTradingService{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades?settled=banana", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTradesEmptyResultIsArray(t *testing.T) {
	h := NewTradeHandler(&fakeTradingService{}, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if !strings.Contains(rec.Body.String(), `"trades":[]`) {
		t.Errorf("body = %s, want empty array not null", rec.Body.String())
	}
}

func TestGetTradeNotFound(t *testing.T) {
	reader := &fakeTradeReader{err: fmt.Errorf("postgres: trade t-404: %w", domain.ErrNotFound)}
	h := NewTradeHandler(nil, reader, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/t-404", nil)
	req.SetPathValue("id", "t-404")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if reader.gotID != "t-404" {
		t.Errorf("looked up %q", reader.gotID)
	}
}

func TestPnLReturnsReport(t *testing.T) {
	mark := int64(42)
	svc := &fakeTradingService{report: trading.PnLReport{
		TradeID:        "t-1",
		Status:         domain.TradeStatusCompleted,
		ExpectedProfit: 177,
		MarkProfit:     &mark,
	}}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/t-1/pnl", nil)
	req.SetPathValue("id", "t-1")
	rec := httptest.NewRecorder()
	h.PnL(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report trading.PnLReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.TradeID != "t-1" || report.MarkProfit == nil || *report.MarkProfit != 42 {
		t.Errorf("report = %+v", report)
	}
}

func TestCloseSurfacesVenueOutage(t *testing.T) {
	svc := &fakeTradingService{err: fmt.Errorf("trading: close t-1: %w", domain.ErrVenueUnavailable)}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/trades/t-1/close", nil)
	req.SetPathValue("id", "t-1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "venue") {
		t.Errorf("body = %s, want venue outage text", rec.Body.String())
	}
	if svc.gotClose != "t-1" {
		t.Errorf("closed %q", svc.gotClose)
	}
}

func TestCloseReturnsUpdatedTrade(t *testing.T) {
	profit := int64(-59)
	now := time.Now().UTC()
	svc := &fakeTradingService{trade: domain.ArbitrageTrade{
		ID:           "t-2",
		Status:       domain.TradeStatusFailed,
		ActualProfit: &profit,
		CreatedAt:    now,
	}}
	h := NewTradeHandler(svc, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/trades/t-2/close", nil)
	req.SetPathValue("id", "t-2")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["Status"] != "failed" || body["ActualProfit"] != float64(-59) {
		t.Errorf("body = %v", body)
	}
}

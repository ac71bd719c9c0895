package trading

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		MinSpreadPercent: 5.0,
		MinInvestment:    1_00,
		MaxInvestment:    500_00,
	}
}

type fill struct {
	res domain.OrderResult
	err error
}

type fakeVenue struct {
	name      domain.VenueName
	market    domain.Market
	marketErr error
	orders    []domain.OrderRequest
	fills     []fill
}

func (f *fakeVenue) Name() domain.VenueName { return f.name }

func (f *fakeVenue) ListActiveMarkets(_ context.Context) ([]domain.Market, error) {
	return []domain.Market{f.market}, nil
}

func (f *fakeVenue) GetMarket(_ context.Context, _ string) (domain.Market, error) {
	if f.marketErr != nil {
		return domain.Market{}, f.marketErr
	}
	return f.market, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	i := len(f.orders)
	f.orders = append(f.orders, req)
	if i >= len(f.fills) {
		return domain.OrderResult{}, errors.New("no scripted fill")
	}
	return f.fills[i].res, f.fills[i].err
}

func (f *fakeVenue) GetResolution(_ context.Context, _ string) (domain.Resolution, error) {
	return domain.Resolution{}, nil
}

type fakePairStore struct {
	pairs map[string]domain.MatchedPair
}

func (s *fakePairStore) Upsert(_ context.Context, p domain.MatchedPair) (domain.MatchedPair, bool, error) {
	return p, false, nil
}

func (s *fakePairStore) GetByID(_ context.Context, id string) (domain.MatchedPair, error) {
	p, ok := s.pairs[id]
	if !ok {
		return domain.MatchedPair{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePairStore) List(_ context.Context, _ domain.PairFilter) ([]domain.MatchedPair, error) {
	return nil, nil
}

func (s *fakePairStore) DeactivateCheckedBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *fakePairStore) ListDeactivatedBetween(_ context.Context, _, _ time.Time, _ int) ([]domain.MatchedPair, error) {
	return nil, nil
}

func (s *fakePairStore) Count(_ context.Context, _ bool) (int64, error) { return 0, nil }

type fakeTradeStore struct {
	byID        map[string]domain.ArbitrageTrade
	createCalls int
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{byID: make(map[string]domain.ArbitrageTrade)}
}

func (s *fakeTradeStore) Create(_ context.Context, t domain.ArbitrageTrade) error {
	s.createCalls++
	s.byID[t.ID] = t
	return nil
}

func (s *fakeTradeStore) GetByID(_ context.Context, id string) (domain.ArbitrageTrade, error) {
	t, ok := s.byID[id]
	if !ok {
		return domain.ArbitrageTrade{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *fakeTradeStore) Transition(_ context.Context, id string, from, to domain.TradeStatus, upd domain.TradeUpdate) error {
	t, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != from {
		return domain.ErrInvalidTransition
	}
	t.Status = to
	if upd.Leg1 != nil {
		t.Leg1 = *upd.Leg1
	}
	if upd.Leg2 != nil {
		t.Leg2 = *upd.Leg2
	}
	if upd.ActualProfit != nil {
		v := *upd.ActualProfit
		t.ActualProfit = &v
	}
	if upd.FailureReason != nil {
		t.FailureReason = *upd.FailureReason
	}
	if upd.SettledAt != nil {
		v := *upd.SettledAt
		t.SettledAt = &v
	}
	s.byID[id] = t
	return nil
}

func (s *fakeTradeStore) ListByUser(_ context.Context, userID string, _ domain.TradeFilter) ([]domain.ArbitrageTrade, error) {
	var out []domain.ArbitrageTrade
	for _, t := range s.byID {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListByStatus(_ context.Context, status domain.TradeStatus, _ domain.ListOpts) ([]domain.ArbitrageTrade, error) {
	var out []domain.ArbitrageTrade
	for _, t := range s.byID {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListExpired(_ context.Context, _ time.Time, _ int) ([]domain.ArbitrageTrade, error) {
	return nil, nil
}

func (s *fakeTradeStore) ListSettledBetween(_ context.Context, _, _ time.Time, _ int) ([]domain.ArbitrageTrade, error) {
	return nil, nil
}

func (s *fakeTradeStore) SumProfit(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (s *fakeTradeStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.byID)), nil
}

type fakeBus struct {
	events []domain.Event
}

func (b *fakeBus) Publish(_ context.Context, e domain.Event) error {
	b.events = append(b.events, e)
	return nil
}

func (b *fakeBus) Read(_ context.Context, _ string, _ int) ([]domain.StreamEntry, error) {
	return nil, nil
}

func (b *fakeBus) lastType() domain.EventType {
	if len(b.events) == 0 {
		return ""
	}
	return b.events[len(b.events)-1].Type
}

type harness struct {
	svc    *Service
	poly   *fakeVenue
	kalshi *fakeVenue
	pairs  *fakePairStore
	trades *fakeTradeStore
	bus    *fakeBus
}

// newHarness wires a service around an active fed-rates pair quoted 40 on
// polymarket and 55 on kalshi: a 15% live spread.
func newHarness() *harness {
	poly := &fakeVenue{
		name: domain.VenuePolymarket,
		market: domain.Market{
			Venue: domain.VenuePolymarket, ID: "poly-fed", Question: "Will the Fed cut rates in 2024?",
			YesTicks: 400_000, Liquidity: 500_00, Active: true,
			EndDate: time.Now().UTC().Add(30 * 24 * time.Hour),
		},
	}
	kalshi := &fakeVenue{
		name: domain.VenueKalshi,
		market: domain.Market{
			Venue: domain.VenueKalshi, ID: "FED-24", Question: "Fed cuts rates in 2024",
			YesTicks: 550_000, Liquidity: 400_00, Active: true,
			EndDate: time.Now().UTC().Add(30 * 24 * time.Hour),
		},
	}
	pairs := &fakePairStore{pairs: map[string]domain.MatchedPair{
		"opp-1": {
			ID: "opp-1", PairKey: "key-1",
			Market1Venue: domain.VenuePolymarket, Market1ID: "poly-fed",
			Market2Venue: domain.VenueKalshi, Market2ID: "FED-24",
			Question: "Will the Fed cut rates in 2024?", SpreadPercent: 15,
			Active:   true,
			Deadline: time.Now().UTC().Add(30 * 24 * time.Hour),
		},
	}}
	trades := newFakeTradeStore()
	bus := &fakeBus{}
	venues := map[domain.VenueName]domain.VenueAdapter{
		domain.VenuePolymarket: poly,
		domain.VenueKalshi:     kalshi,
	}
	svc := NewService(pairs, trades, venues, bus, nil, testConfig(), testLogger())
	return &harness{svc: svc, poly: poly, kalshi: kalshi, pairs: pairs, trades: trades, bus: bus}
}

func validRequest() ExecuteRequest {
	return ExecuteRequest{UserID: "user-1", OpportunityID: "opp-1", InvestmentAmount: 10_00}
}

// completedFixture holds 11.764705 shares on each side of the harness pair
// at a total cost of 999 minor units.
func completedFixture(id string) domain.ArbitrageTrade {
	return domain.ArbitrageTrade{
		ID: id, UserID: "user-1", OpportunityID: "opp-1", InvestmentAmount: 10_00,
		Status: domain.TradeStatusCompleted,
		Leg1: domain.TradeLeg{
			Venue: domain.VenuePolymarket, MarketID: "poly-fed", Side: domain.SideYes, Amount: 470,
			OrderID: strPtr("p-1"), SharesMicros: 11_764_705, PriceTicks: 400_000,
		},
		Leg2: domain.TradeLeg{
			Venue: domain.VenueKalshi, MarketID: "FED-24", Side: domain.SideNo, Amount: 529,
			OrderID: strPtr("k-1"), SharesMicros: 11_764_705, PriceTicks: 450_000,
		},
	}
}

// partialFixture holds only the polymarket leg; the kalshi leg was rejected.
func partialFixture(id string) domain.ArbitrageTrade {
	return domain.ArbitrageTrade{
		ID: id, UserID: "user-1", OpportunityID: "opp-1", InvestmentAmount: 10_00,
		Status: domain.TradeStatusPartial,
		Leg1: domain.TradeLeg{
			Venue: domain.VenuePolymarket, MarketID: "poly-fed", Side: domain.SideYes, Amount: 470,
			OrderID: strPtr("p-1"), SharesMicros: 11_764_705, PriceTicks: 400_000,
		},
		Leg2:          domain.TradeLeg{Venue: domain.VenueKalshi, MarketID: "FED-24", Side: domain.SideNo, Amount: 529, Error: "rejected"},
		FailureReason: "leg 2 (kalshi) rejected after leg 1 committed",
	}
}

func TestExecuteArbitrageBothLegsFill(t *testing.T) {
	h := newHarness()
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-1", SharesReceived: 11_764_705, ExecutionPrice: 400_000}}}
	h.kalshi.fills = []fill{{res: domain.OrderResult{OrderID: "k-1", SharesReceived: 11_000_000, ExecutionPrice: 450_000}}}

	trade, err := h.svc.ExecuteArbitrage(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ExecuteArbitrage: %v", err)
	}

	if trade.Status != domain.TradeStatusCompleted {
		t.Fatalf("status = %s, want completed", trade.Status)
	}
	if trade.Leg1.Side != domain.SideYes || trade.Leg2.Side != domain.SideNo {
		t.Errorf("sides = %s/%s, want yes on the cheap venue and no on the rich one", trade.Leg1.Side, trade.Leg2.Side)
	}
	if got := trade.Leg1.Amount + trade.Leg2.Amount; got > 10_00 {
		t.Errorf("allocated %d exceeds investment 1000", got)
	}
	if trade.Leg1.Amount <= 0 || trade.Leg2.Amount <= 0 {
		t.Errorf("both legs need capital: %d/%d", trade.Leg1.Amount, trade.Leg2.Amount)
	}
	if trade.ExpectedProfit <= 0 {
		t.Errorf("expected profit = %d, want positive at 15%% spread", trade.ExpectedProfit)
	}
	if !trade.Leg1.Executed() || !trade.Leg2.Executed() {
		t.Error("both legs should carry order ids")
	}

	// Leg 1 must hit polymarket before kalshi sees anything.
	if len(h.poly.orders) != 1 || len(h.kalshi.orders) != 1 {
		t.Fatalf("order counts poly=%d kalshi=%d, want 1/1", len(h.poly.orders), len(h.kalshi.orders))
	}
	if h.poly.orders[0].Action != domain.ActionBuy || h.poly.orders[0].Side != domain.SideYes {
		t.Errorf("poly order = %+v", h.poly.orders[0])
	}

	stored := h.trades.byID[trade.ID]
	if stored.Status != domain.TradeStatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
	if stored.Leg1.OrderID == nil || *stored.Leg1.OrderID != "p-1" {
		t.Errorf("stored leg1 order id = %v, want p-1", stored.Leg1.OrderID)
	}
	if h.bus.lastType() != domain.EventTradeCompleted {
		t.Errorf("last event = %s, want trade_completed", h.bus.lastType())
	}
}

func TestExecuteArbitrageStaleBeforeAnyTradeRow(t *testing.T) {
	cases := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "pair deactivated",
			setup: func(h *harness) {
				p := h.pairs.pairs["opp-1"]
				p.Active = false
				h.pairs.pairs["opp-1"] = p
			},
		},
		{
			name: "deadline passed",
			setup: func(h *harness) {
				p := h.pairs.pairs["opp-1"]
				p.Deadline = time.Now().UTC().Add(-time.Hour)
				h.pairs.pairs["opp-1"] = p
			},
		},
		{
			name: "live spread collapsed",
			setup: func(h *harness) {
				h.kalshi.market.YesTicks = 410_000 // 1% spread, below the 5% floor
			},
		},
		{
			name: "market closed on venue",
			setup: func(h *harness) {
				h.kalshi.market.Active = false
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.setup(h)

			_, err := h.svc.ExecuteArbitrage(context.Background(), validRequest())
			if !errors.Is(err, domain.ErrStaleOpportunity) {
				t.Fatalf("expected ErrStaleOpportunity, got %v", err)
			}
			if h.trades.createCalls != 0 {
				t.Error("a trade row was written for a stale opportunity")
			}
			if len(h.poly.orders)+len(h.kalshi.orders) != 0 {
				t.Error("orders were placed for a stale opportunity")
			}
		})
	}
}

func TestExecuteArbitrageVenueOutageIsNotStale(t *testing.T) {
	h := newHarness()
	h.kalshi.marketErr = domain.ErrVenueUnavailable

	_, err := h.svc.ExecuteArbitrage(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrVenueUnavailable) {
		t.Fatalf("expected ErrVenueUnavailable, got %v", err)
	}
	if errors.Is(err, domain.ErrStaleOpportunity) {
		t.Error("venue outage must stay distinguishable from staleness")
	}
	if h.trades.createCalls != 0 {
		t.Error("a trade row was written during a venue outage")
	}
}

func TestExecuteArbitrageLeg1FailureMeansNoPosition(t *testing.T) {
	h := newHarness()
	h.poly.fills = []fill{{err: domain.ErrVenueUnavailable}}

	trade, err := h.svc.ExecuteArbitrage(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ExecuteArbitrage: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed", trade.Status)
	}
	if trade.Leg1.Error == "" {
		t.Error("leg 1 error not recorded")
	}
	if len(h.kalshi.orders) != 0 {
		t.Error("leg 2 was attempted after leg 1 failed")
	}

	stored := h.trades.byID[trade.ID]
	if stored.Status != domain.TradeStatusFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}
	if stored.FailureReason == "" {
		t.Error("failure reason not persisted")
	}
	if h.bus.lastType() != domain.EventTradeFailed {
		t.Errorf("last event = %s, want trade_failed", h.bus.lastType())
	}
}

func TestExecuteArbitrageLeg2FailureLeavesPartial(t *testing.T) {
	h := newHarness()
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-1", SharesReceived: 11_764_705, ExecutionPrice: 400_000}}}
	h.kalshi.fills = []fill{{err: domain.ErrRateLimited}}

	trade, err := h.svc.ExecuteArbitrage(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ExecuteArbitrage: %v", err)
	}
	if trade.Status != domain.TradeStatusPartial {
		t.Fatalf("status = %s, want partial", trade.Status)
	}

	stored := h.trades.byID[trade.ID]
	if stored.Leg1.OrderID == nil || *stored.Leg1.OrderID != "p-1" {
		t.Errorf("committed leg 1 order id must survive: %v", stored.Leg1.OrderID)
	}
	if stored.Leg1.SharesMicros != 11_764_705 {
		t.Errorf("leg 1 shares = %d, want 11764705", stored.Leg1.SharesMicros)
	}
	if stored.Leg2.Executed() {
		t.Error("leg 2 must not carry an order id")
	}
	if stored.Leg2.Error == "" {
		t.Error("leg 2 error not recorded")
	}
	if h.bus.lastType() != domain.EventTradePartial {
		t.Errorf("last event = %s, want trade_partial", h.bus.lastType())
	}
}

func TestExecuteArbitrageValidation(t *testing.T) {
	h := newHarness()
	cases := []struct {
		name string
		req  ExecuteRequest
	}{
		{"empty user", ExecuteRequest{OpportunityID: "opp-1", InvestmentAmount: 10_00}},
		{"empty opportunity", ExecuteRequest{UserID: "u", InvestmentAmount: 10_00}},
		{"below minimum", ExecuteRequest{UserID: "u", OpportunityID: "opp-1", InvestmentAmount: 50}},
		{"above maximum", ExecuteRequest{UserID: "u", OpportunityID: "opp-1", InvestmentAmount: 90_000_00}},
		{"zero amount", ExecuteRequest{UserID: "u", OpportunityID: "opp-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.ExecuteArbitrage(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if h.trades.createCalls != 0 {
		t.Error("validation failures must not write trade rows")
	}
}

func TestExecuteArbitrageUnknownOpportunity(t *testing.T) {
	h := newHarness()
	req := validRequest()
	req.OpportunityID = "missing"
	_, err := h.svc.ExecuteArbitrage(context.Background(), req)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllocate(t *testing.T) {
	alloc, err := allocate(10_00, 400_000, 450_000)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if alloc.Leg1Amount != 470 {
		t.Errorf("leg1 = %d, want 470", alloc.Leg1Amount)
	}
	if alloc.Leg2Amount != 529 {
		t.Errorf("leg2 = %d, want 529", alloc.Leg2Amount)
	}
	if alloc.SharesMicros != 11_764_705 {
		t.Errorf("shares = %d, want 11764705", alloc.SharesMicros)
	}
	if alloc.ExpectedProfit != 177 {
		t.Errorf("expected profit = %d, want 177", alloc.ExpectedProfit)
	}
}

func TestAllocateInvariants(t *testing.T) {
	cases := []struct {
		investment int64
		p1, p2     int64
	}{
		{1_00, 400_000, 450_000},
		{500_00, 10_000, 980_000},
		{10_00, 333_333, 333_333},
		{25_37, 123_456, 654_321},
		{1_000_000_00, 500_000, 490_000},
	}
	for _, tc := range cases {
		alloc, err := allocate(tc.investment, tc.p1, tc.p2)
		if err != nil {
			t.Fatalf("allocate(%d, %d, %d): %v", tc.investment, tc.p1, tc.p2, err)
		}
		if alloc.Leg1Amount <= 0 || alloc.Leg2Amount <= 0 {
			t.Errorf("allocate(%d, %d, %d): legs %d/%d, both must be positive",
				tc.investment, tc.p1, tc.p2, alloc.Leg1Amount, alloc.Leg2Amount)
		}
		if total := alloc.Leg1Amount + alloc.Leg2Amount; total > tc.investment {
			t.Errorf("allocate(%d, %d, %d): total %d exceeds investment",
				tc.investment, tc.p1, tc.p2, total)
		}
	}
}

func TestAllocateRejectsBadInput(t *testing.T) {
	if _, err := allocate(0, 400_000, 450_000); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero investment: %v", err)
	}
	if _, err := allocate(10_00, 0, 450_000); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero price: %v", err)
	}
}

func TestCalculatePnL(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-1"] = domain.ArbitrageTrade{
		ID: "t-1", UserID: "user-1", InvestmentAmount: 10_00,
		Status:         domain.TradeStatusCompleted,
		ExpectedProfit: 177,
		Leg1: domain.TradeLeg{
			Venue: domain.VenuePolymarket, Side: domain.SideYes, Amount: 470,
			OrderID: strPtr("p-1"), SharesMicros: 11_764_705, PriceTicks: 400_000,
		},
		Leg2: domain.TradeLeg{
			Venue: domain.VenueKalshi, Side: domain.SideNo, Amount: 529,
			OrderID: strPtr("k-1"), SharesMicros: 11_764_705, PriceTicks: 450_000,
		},
	}

	pnl, err := h.svc.CalculatePnL(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("CalculatePnL: %v", err)
	}
	if pnl.TotalCost != 999 {
		t.Errorf("total cost = %d, want 999", pnl.TotalCost)
	}
	if pnl.Leg1.Cost != 470 || pnl.Leg2.Cost != 529 {
		t.Errorf("leg costs = %d/%d, want 470/529", pnl.Leg1.Cost, pnl.Leg2.Cost)
	}
	if pnl.Leg1.PayoutIfWins != 1176 || pnl.Leg2.PayoutIfWins != 1176 {
		t.Errorf("leg payouts = %d/%d, want 1176/1176", pnl.Leg1.PayoutIfWins, pnl.Leg2.PayoutIfWins)
	}
	// Equal share counts: both outcomes pay 1176, so the profit is locked.
	if pnl.GuaranteedProfit != 177 || pnl.BestCaseProfit != 177 {
		t.Errorf("guaranteed/best = %d/%d, want 177/177", pnl.GuaranteedProfit, pnl.BestCaseProfit)
	}
	// Exit value at unchanged live quotes recovers the cost exactly.
	if pnl.MarkProfit == nil || *pnl.MarkProfit != 0 {
		t.Errorf("mark profit = %v, want 0", pnl.MarkProfit)
	}
	if pnl.ActualProfit != nil {
		t.Error("unsettled trade must not report actual profit")
	}
}

func TestCalculatePnLPartialHedge(t *testing.T) {
	h := newHarness()
	h.poly.market.YesTicks = 350_000 // the held side slid after the fill
	h.trades.byID["t-2"] = domain.ArbitrageTrade{
		ID: "t-2", UserID: "user-1", InvestmentAmount: 10_00,
		Status: domain.TradeStatusPartial,
		Leg1: domain.TradeLeg{
			Venue: domain.VenuePolymarket, MarketID: "poly-fed", Side: domain.SideYes, Amount: 470,
			OrderID: strPtr("p-1"), SharesMicros: 11_764_705, PriceTicks: 400_000,
		},
		Leg2: domain.TradeLeg{Venue: domain.VenueKalshi, MarketID: "FED-24", Side: domain.SideNo, Amount: 529, Error: "rejected"},
	}

	pnl, err := h.svc.CalculatePnL(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("CalculatePnL: %v", err)
	}
	if pnl.TotalCost != 470 {
		t.Errorf("total cost = %d, want only the committed leg", pnl.TotalCost)
	}
	// Unhedged: losing outcome pays nothing, winning one pays 1176.
	if pnl.GuaranteedProfit != -470 {
		t.Errorf("guaranteed = %d, want -470", pnl.GuaranteedProfit)
	}
	if pnl.BestCaseProfit != 1176-470 {
		t.Errorf("best case = %d, want 706", pnl.BestCaseProfit)
	}
	// Exiting 11.764705 shares at 35 cents recovers 411 of the 470 spent.
	if pnl.MarkProfit == nil || *pnl.MarkProfit != -59 {
		t.Errorf("mark profit = %v, want -59", pnl.MarkProfit)
	}
}

func TestCalculatePnLSettledSkipsMark(t *testing.T) {
	h := newHarness()
	profit := int64(177)
	now := time.Now().UTC()
	tr := completedFixture("t-9")
	tr.Status = domain.TradeStatusSettled
	tr.ActualProfit = &profit
	tr.SettledAt = &now
	h.trades.byID["t-9"] = tr

	pnl, err := h.svc.CalculatePnL(context.Background(), "t-9")
	if err != nil {
		t.Fatalf("CalculatePnL: %v", err)
	}
	if pnl.MarkProfit != nil {
		t.Error("settled trades must not be marked to market")
	}
	if pnl.ActualProfit == nil || *pnl.ActualProfit != 177 {
		t.Errorf("actual profit = %v, want recorded 177", pnl.ActualProfit)
	}
}

func TestClosePositionsCompletedTrade(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-1"] = completedFixture("t-1")
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-2", SharesReceived: 11_764_705, ExecutionPrice: 380_000}}}
	h.kalshi.fills = []fill{{res: domain.OrderResult{OrderID: "k-2", SharesReceived: 11_764_705, ExecutionPrice: 430_000}}}

	trade, err := h.svc.ClosePositions(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("ClosePositions: %v", err)
	}
	if trade.Status != domain.TradeStatusSettled {
		t.Fatalf("status = %s, want settled", trade.Status)
	}
	if trade.ActualProfit == nil {
		t.Fatal("actual profit not set")
	}
	// Proceeds 447 + 505 against 999 committed.
	if *trade.ActualProfit != -47 {
		t.Errorf("actual profit = %d, want -47", *trade.ActualProfit)
	}
	if h.poly.orders[0].Action != domain.ActionSell || h.poly.orders[0].Amount != 11_764_705 {
		t.Errorf("poly close order = %+v", h.poly.orders[0])
	}
	if trade.SettledAt == nil {
		t.Error("settled_at not set")
	}

	// Closing again is a no-op.
	again, err := h.svc.ClosePositions(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if again.Status != domain.TradeStatusSettled {
		t.Errorf("second close status = %s", again.Status)
	}
	if len(h.poly.orders) != 1 || len(h.kalshi.orders) != 1 {
		t.Error("second close placed new orders")
	}
}

func TestClosePositionsPartialTradeUnwinds(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-2"] = partialFixture("t-2")
	// Spread collapsed to 1%: no rehedge, straight to unwinding.
	h.kalshi.market.YesTicks = 410_000
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-2", SharesReceived: 11_764_705, ExecutionPrice: 350_000}}}

	trade, err := h.svc.ClosePositions(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("ClosePositions: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed for an abandoned hedge", trade.Status)
	}
	if trade.ActualProfit == nil || *trade.ActualProfit != 411-470 {
		t.Errorf("actual profit = %v, want -59", trade.ActualProfit)
	}
	if len(h.kalshi.orders) != 0 {
		t.Error("no kalshi order belongs in the unwind path")
	}
}

func TestClosePositionsRehedgesPartialTrade(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-2"] = partialFixture("t-2")
	// Live quotes still show the 15% spread, so the close buys the missing
	// leg instead of unwinding.
	h.kalshi.fills = []fill{{res: domain.OrderResult{OrderID: "k-9", SharesReceived: 11_764_705, ExecutionPrice: 450_000}}}

	trade, err := h.svc.ClosePositions(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("ClosePositions: %v", err)
	}
	if trade.Status != domain.TradeStatusCompleted {
		t.Fatalf("status = %s, want completed after rehedge", trade.Status)
	}
	if len(h.poly.orders) != 0 {
		t.Error("held leg must not be sold on a successful rehedge")
	}
	if len(h.kalshi.orders) != 1 || h.kalshi.orders[0].Action != domain.ActionBuy {
		t.Fatalf("kalshi orders = %+v, want one buy", h.kalshi.orders)
	}

	stored := h.trades.byID["t-2"]
	if stored.Status != domain.TradeStatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
	if stored.Leg2.OrderID == nil || *stored.Leg2.OrderID != "k-9" {
		t.Errorf("leg 2 order id = %v, want k-9", stored.Leg2.OrderID)
	}
	if stored.FailureReason != "" {
		t.Errorf("failure reason = %q, want cleared", stored.FailureReason)
	}
	if stored.ActualProfit != nil {
		t.Error("a rehedged trade is still open: no realized profit yet")
	}
	if got := stored.Leg1.Amount + stored.Leg2.Amount; got > 10_00 {
		t.Errorf("total committed %d exceeds the investment", got)
	}
}

func TestClosePositionsRehedgeRejectedFallsBackToUnwind(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-2"] = partialFixture("t-2")
	h.kalshi.fills = []fill{{err: domain.ErrVenueUnavailable}}
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-2", SharesReceived: 11_764_705, ExecutionPrice: 350_000}}}

	trade, err := h.svc.ClosePositions(context.Background(), "t-2")
	if err != nil {
		t.Fatalf("ClosePositions: %v", err)
	}
	if trade.Status != domain.TradeStatusFailed {
		t.Fatalf("status = %s, want failed after the rejected rehedge", trade.Status)
	}
	if trade.ActualProfit == nil || *trade.ActualProfit != -59 {
		t.Errorf("actual profit = %v, want -59", trade.ActualProfit)
	}
	if len(h.kalshi.orders) != 1 || h.kalshi.orders[0].Action != domain.ActionBuy {
		t.Errorf("kalshi orders = %+v, want only the rejected buy attempt", h.kalshi.orders)
	}
	if len(h.poly.orders) != 1 || h.poly.orders[0].Action != domain.ActionSell {
		t.Errorf("poly orders = %+v, want the unwinding sell", h.poly.orders)
	}
}

func TestClosePositionsRetriesOnlyUnsoldLegs(t *testing.T) {
	h := newHarness()
	h.trades.byID["t-3"] = completedFixture("t-3")
	h.poly.fills = []fill{{res: domain.OrderResult{OrderID: "p-2", SharesReceived: 11_764_705, ExecutionPrice: 380_000}}}
	h.kalshi.fills = []fill{{err: domain.ErrVenueUnavailable}, {res: domain.OrderResult{OrderID: "k-2", SharesReceived: 11_764_705, ExecutionPrice: 430_000}}}

	// First attempt: leg 1 sells, leg 2 fails, trade stays completed.
	_, err := h.svc.ClosePositions(context.Background(), "t-3")
	if !errors.Is(err, domain.ErrVenueUnavailable) {
		t.Fatalf("expected venue error, got %v", err)
	}
	mid := h.trades.byID["t-3"]
	if mid.Status != domain.TradeStatusCompleted {
		t.Fatalf("mid status = %s, want still completed", mid.Status)
	}
	if mid.Leg1.SharesMicros != 0 {
		t.Error("sold leg 1 not recorded")
	}

	// Retry sells only leg 2 and lands on settled.
	trade, err := h.svc.ClosePositions(context.Background(), "t-3")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if trade.Status != domain.TradeStatusSettled {
		t.Fatalf("status = %s, want settled", trade.Status)
	}
	if len(h.poly.orders) != 1 {
		t.Errorf("poly sell count = %d, want 1: leg 1 must not be sold twice", len(h.poly.orders))
	}
	if trade.ActualProfit == nil || *trade.ActualProfit != -47 {
		t.Errorf("actual profit = %v, want -47 across both attempts", trade.ActualProfit)
	}
}

func TestGetUserTradesValidation(t *testing.T) {
	h := newHarness()
	if _, err := h.svc.GetUserTrades(context.Background(), "", domain.TradeFilter{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty user: %v", err)
	}
	if _, err := h.svc.GetUserTrades(context.Background(), "u", domain.TradeFilter{Status: "bogus"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bogus status: %v", err)
	}
}

func strPtr(s string) *string { return &s }

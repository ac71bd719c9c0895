package matcher

import (
	"context"
	"errors"
	"fmt"
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

func testConfig() config.MatcherConfig {
	return config.MatcherConfig{
		MinSpreadPercent: 5.0,
		MinSimilarity:    0.80,
		MinLiquidity:     50_00,
		MaxPairsPerRun:   100,
	}
}

type fakeVenue struct {
	name    domain.VenueName
	markets []domain.Market
	err     error
}

func (f *fakeVenue) Name() domain.VenueName { return f.name }

func (f *fakeVenue) ListActiveMarkets(_ context.Context) ([]domain.Market, error) {
	return f.markets, f.err
}

func (f *fakeVenue) GetMarket(_ context.Context, id string) (domain.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeVenue) PlaceOrder(_ context.Context, _ domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not supported")
}

func (f *fakeVenue) GetResolution(_ context.Context, _ string) (domain.Resolution, error) {
	return domain.Resolution{}, nil
}

type fakePairStore struct {
	byKey           map[string]domain.MatchedPair
	deactivateCalls int
	upsertErr       error
}

func newFakePairStore() *fakePairStore {
	return &fakePairStore{byKey: make(map[string]domain.MatchedPair)}
}

func (s *fakePairStore) Upsert(_ context.Context, pair domain.MatchedPair) (domain.MatchedPair, bool, error) {
	if s.upsertErr != nil {
		return domain.MatchedPair{}, false, s.upsertErr
	}
	if existing, ok := s.byKey[pair.PairKey]; ok {
		pair.ID = existing.ID
		pair.CreatedAt = existing.CreatedAt
		s.byKey[pair.PairKey] = pair
		return pair, false, nil
	}
	pair.ID = fmt.Sprintf("pair-%d", len(s.byKey)+1)
	pair.CreatedAt = time.Now().UTC()
	s.byKey[pair.PairKey] = pair
	return pair, true, nil
}

func (s *fakePairStore) GetByID(_ context.Context, id string) (domain.MatchedPair, error) {
	for _, p := range s.byKey {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.MatchedPair{}, domain.ErrNotFound
}

func (s *fakePairStore) List(_ context.Context, _ domain.PairFilter) ([]domain.MatchedPair, error) {
	out := make([]domain.MatchedPair, 0, len(s.byKey))
	for _, p := range s.byKey {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePairStore) DeactivateCheckedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.deactivateCalls++
	var n int64
	for k, p := range s.byKey {
		if p.Active && p.LastCheckedAt.Before(cutoff) {
			p.Active = false
			s.byKey[k] = p
			n++
		}
	}
	return n, nil
}

func (s *fakePairStore) ListDeactivatedBetween(_ context.Context, _, _ time.Time, _ int) ([]domain.MatchedPair, error) {
	return nil, nil
}

func (s *fakePairStore) Count(_ context.Context, _ bool) (int64, error) {
	return int64(len(s.byKey)), nil
}

type fakeSnapshots struct {
	sets map[domain.VenueName]int
}

func (c *fakeSnapshots) SetSnapshot(_ context.Context, venue domain.VenueName, _ []domain.Market) error {
	if c.sets == nil {
		c.sets = make(map[domain.VenueName]int)
	}
	c.sets[venue]++
	return nil
}

func (c *fakeSnapshots) GetSnapshot(_ context.Context, _ domain.VenueName) ([]domain.Market, time.Time, error) {
	return nil, time.Time{}, domain.ErrNotFound
}

func (c *fakeSnapshots) Invalidate(_ context.Context, _ domain.VenueName) error { return nil }

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

func futureDate() time.Time {
	return time.Now().UTC().Add(30 * 24 * time.Hour)
}

func polyMarkets() []domain.Market {
	return []domain.Market{
		{
			Venue: domain.VenuePolymarket, ID: "poly-fed",
			Question: "Will the Fed cut interest rates in 2024?", Category: "economics",
			YesTicks: 400_000, Liquidity: 500_00, EndDate: futureDate(), Active: true,
		},
		{
			Venue: domain.VenuePolymarket, ID: "poly-btc",
			Question: "Will Bitcoin close above $100,000 on December 31?", Category: "crypto",
			YesTicks: 300_000, Liquidity: 500_00, EndDate: futureDate(), Active: true,
		},
	}
}

func kalshiMarkets() []domain.Market {
	return []domain.Market{
		{
			Venue: domain.VenueKalshi, ID: "FED-24",
			Question: "Fed cuts interest rates in 2024", Category: "economics",
			YesTicks: 550_000, Liquidity: 400_00, EndDate: futureDate(), Active: true,
		},
		{
			Venue: domain.VenueKalshi, ID: "BTC-100K",
			Question: "Bitcoin above $100,000 on December 31?", Category: "crypto",
			YesTicks: 310_000, Liquidity: 500_00, EndDate: futureDate(), Active: true,
		},
		{
			Venue: domain.VenueKalshi, ID: "ALIEN-25",
			Question: "Will aliens land on Earth in 2025?", Category: "science",
			YesTicks: 20_000, Liquidity: 900_00, EndDate: futureDate(), Active: true,
		},
	}
}

func TestFindAndCacheOpportunities(t *testing.T) {
	v1 := &fakeVenue{name: domain.VenuePolymarket, markets: polyMarkets()}
	v2 := &fakeVenue{name: domain.VenueKalshi, markets: kalshiMarkets()}
	pairs := newFakePairStore()
	snaps := &fakeSnapshots{}
	bus := &fakeBus{}

	m := New(v1, v2, pairs, snaps, bus, nil, testConfig(), testLogger())

	report, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindAndCacheOpportunities: %v", err)
	}

	// The Fed pair spreads 40 vs 55 = 15%. The BTC pair matches but spreads
	// only 1%, below the 5% floor. The alien market matches nothing.
	if report.OpportunitiesFound != 1 {
		t.Errorf("opportunities = %d, want 1", report.OpportunitiesFound)
	}
	if report.PairsCreated != 1 {
		t.Errorf("created = %d, want 1", report.PairsCreated)
	}
	if report.PairsUpdated != 0 {
		t.Errorf("updated = %d, want 0", report.PairsUpdated)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, want none", report.Errors)
	}

	key := domain.PairKeyFor(domain.VenuePolymarket, "poly-fed", domain.VenueKalshi, "FED-24")
	stored, ok := pairs.byKey[key]
	if !ok {
		t.Fatal("fed pair not stored")
	}
	if stored.SpreadPercent < 14.9 || stored.SpreadPercent > 15.1 {
		t.Errorf("spread = %v, want ~15", stored.SpreadPercent)
	}
	if stored.Liquidity != 400_00 {
		t.Errorf("liquidity = %d, want lesser side 40000", stored.Liquidity)
	}
	if !stored.Active {
		t.Error("stored pair should be active")
	}
	if stored.Question != "Will the Fed cut interest rates in 2024?" {
		t.Errorf("question = %q", stored.Question)
	}

	if snaps.sets[domain.VenuePolymarket] != 1 || snaps.sets[domain.VenueKalshi] != 1 {
		t.Errorf("snapshot writes = %v, want one per venue", snaps.sets)
	}
	if len(bus.events) != 1 || bus.events[0].Type != domain.EventOpportunityFound {
		t.Errorf("events = %+v, want one opportunity_found", bus.events)
	}

	// A second run re-finds the same pair and updates instead of creating.
	report2, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report2.PairsCreated != 0 || report2.PairsUpdated != 1 {
		t.Errorf("second run created=%d updated=%d, want 0/1", report2.PairsCreated, report2.PairsUpdated)
	}
	if report2.PairsDeactivated != 0 {
		t.Errorf("second run deactivated = %d, want 0", report2.PairsDeactivated)
	}
}

func TestUnrefreshedPairsAreDeactivated(t *testing.T) {
	v1 := &fakeVenue{name: domain.VenuePolymarket, markets: polyMarkets()}
	v2 := &fakeVenue{name: domain.VenueKalshi, markets: kalshiMarkets()}
	pairs := newFakePairStore()

	// A pair from an earlier run whose markets are gone now.
	stale := domain.MatchedPair{
		ID:            "pair-old",
		PairKey:       domain.PairKeyFor(domain.VenuePolymarket, "gone-1", domain.VenueKalshi, "GONE-1"),
		Active:        true,
		LastCheckedAt: time.Now().UTC().Add(-time.Hour),
	}
	pairs.byKey[stale.PairKey] = stale

	m := New(v1, v2, pairs, nil, nil, nil, testConfig(), testLogger())
	report, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindAndCacheOpportunities: %v", err)
	}

	if report.PairsDeactivated != 1 {
		t.Errorf("deactivated = %d, want 1", report.PairsDeactivated)
	}
	got := pairs.byKey[stale.PairKey]
	if got.Active {
		t.Error("stale pair still active")
	}
	// The freshly upserted pair must survive the sweep.
	fedKey := domain.PairKeyFor(domain.VenuePolymarket, "poly-fed", domain.VenueKalshi, "FED-24")
	if !pairs.byKey[fedKey].Active {
		t.Error("refreshed pair was deactivated")
	}
}

func TestVenueFailureSkipsMatchingAndDeactivation(t *testing.T) {
	v1 := &fakeVenue{name: domain.VenuePolymarket, markets: polyMarkets()}
	v2 := &fakeVenue{name: domain.VenueKalshi, err: domain.ErrVenueUnavailable}
	pairs := newFakePairStore()

	stale := domain.MatchedPair{
		ID:            "pair-old",
		PairKey:       "key-old",
		Active:        true,
		LastCheckedAt: time.Now().UTC().Add(-time.Hour),
	}
	pairs.byKey[stale.PairKey] = stale

	m := New(v1, v2, pairs, nil, nil, nil, testConfig(), testLogger())
	report, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindAndCacheOpportunities: %v", err)
	}

	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", report.Errors)
	}
	if report.OpportunitiesFound != 0 {
		t.Errorf("opportunities = %d, want 0", report.OpportunitiesFound)
	}
	if pairs.deactivateCalls != 0 {
		t.Error("deactivation ran during a venue outage")
	}
	if !pairs.byKey[stale.PairKey].Active {
		t.Error("pair deactivated during a venue outage")
	}
}

func TestLowLiquidityMarketsAreSkipped(t *testing.T) {
	kalshi := kalshiMarkets()
	kalshi[0].Liquidity = 10_00 // below the 50.00 floor

	v1 := &fakeVenue{name: domain.VenuePolymarket, markets: polyMarkets()}
	v2 := &fakeVenue{name: domain.VenueKalshi, markets: kalshi}
	pairs := newFakePairStore()

	m := New(v1, v2, pairs, nil, nil, nil, testConfig(), testLogger())
	report, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindAndCacheOpportunities: %v", err)
	}
	if report.OpportunitiesFound != 0 {
		t.Errorf("opportunities = %d, want 0 when one side is illiquid", report.OpportunitiesFound)
	}
}

func TestEachMarketPairsAtMostOnce(t *testing.T) {
	poly := []domain.Market{
		{
			Venue: domain.VenuePolymarket, ID: "poly-fed-a",
			Question: "Will the Fed cut interest rates in 2024?", Category: "economics",
			YesTicks: 400_000, Liquidity: 500_00, EndDate: futureDate(), Active: true,
		},
		{
			Venue: domain.VenuePolymarket, ID: "poly-fed-b",
			Question: "Fed cut interest rates 2024?", Category: "economics",
			YesTicks: 420_000, Liquidity: 500_00, EndDate: futureDate(), Active: true,
		},
	}
	kalshi := []domain.Market{
		{
			Venue: domain.VenueKalshi, ID: "FED-24",
			Question: "Fed cuts interest rates in 2024", Category: "economics",
			YesTicks: 550_000, Liquidity: 400_00, EndDate: futureDate(), Active: true,
		},
	}

	v1 := &fakeVenue{name: domain.VenuePolymarket, markets: poly}
	v2 := &fakeVenue{name: domain.VenueKalshi, markets: kalshi}
	pairs := newFakePairStore()

	m := New(v1, v2, pairs, nil, nil, nil, testConfig(), testLogger())
	report, err := m.FindAndCacheOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindAndCacheOpportunities: %v", err)
	}

	if report.OpportunitiesFound != 1 {
		t.Fatalf("opportunities = %d, want 1: the kalshi market pairs once", report.OpportunitiesFound)
	}
	// The terser poly question is the closer match and must win the pairing.
	key := domain.PairKeyFor(domain.VenuePolymarket, "poly-fed-b", domain.VenueKalshi, "FED-24")
	if _, ok := pairs.byKey[key]; !ok {
		t.Errorf("expected poly-fed-b to win the pairing, stored: %v", keysOf(pairs.byKey))
	}
}

func keysOf(m map[string]domain.MatchedPair) []string {
	out := make([]string, 0, len(m))
	for _, p := range m {
		out = append(out, p.Market1ID+"/"+p.Market2ID)
	}
	return out
}

func TestQuestionSimilarity(t *testing.T) {
	cases := []struct {
		name string
		q1   string
		q2   string
		min  float64
		max  float64
	}{
		{
			name: "identical",
			q1:   "Will the Fed cut interest rates in 2024?",
			q2:   "Will the Fed cut interest rates in 2024?",
			min:  1.0, max: 1.0,
		},
		{
			name: "equivalent phrasing",
			q1:   "Will the Fed cut interest rates in 2024?",
			q2:   "Fed cuts interest rates in 2024",
			min:  0.80, max: 1.0,
		},
		{
			name: "same event different punctuation",
			q1:   "Will Bitcoin close above $100,000 on December 31?",
			q2:   "Bitcoin above $100,000 on December 31?",
			min:  0.75, max: 1.0,
		},
		{
			name: "different strike levels",
			q1:   "Will Bitcoin close above $100,000 on December 31?",
			q2:   "Will Bitcoin close above $90,000 on December 31?",
			min:  0.0, max: 0.95,
		},
		{
			name: "unrelated",
			q1:   "Will the Fed cut interest rates in 2024?",
			q2:   "Will aliens land on Earth in 2025?",
			min:  0.0, max: 0.5,
		},
		{
			name: "empty",
			q1:   "",
			q2:   "Will the Fed cut interest rates in 2024?",
			min:  0.0, max: 0.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := questionSimilarity(tc.q1, tc.q2)
			if got < tc.min || got > tc.max {
				t.Errorf("similarity(%q, %q) = %v, want in [%v, %v]", tc.q1, tc.q2, got, tc.min, tc.max)
			}
		})
	}
}

func TestCategoryBonusAppliesOnlyOnAgreement(t *testing.T) {
	base := domain.Market{Question: "Will the Fed cut interest rates in 2024?", Category: "economics"}
	same := domain.Market{Question: "Fed cuts interest rates in 2024", Category: "economics"}
	other := domain.Market{Question: "Fed cuts interest rates in 2024", Category: "politics"}

	withBonus := marketSimilarity(base, same)
	without := marketSimilarity(base, other)
	if withBonus <= without {
		t.Errorf("category agreement should raise the score: %v <= %v", withBonus, without)
	}
}

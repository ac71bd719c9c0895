package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oddslane/hedgebot/internal/domain"
)

type fakePairReader struct {
	pairs []domain.MatchedPair
	pair  domain.MatchedPair
	err   error

	gotID     string
	gotFilter domain.PairFilter
}

func (r *fakePairReader) GetByID(_ context.Context, id string) (domain.MatchedPair, error) {
	r.gotID = id
	return r.pair, r.err
}

func (r *fakePairReader) List(_ context.Context, f domain.PairFilter) ([]domain.MatchedPair, error) {
	r.gotFilter = f
	return r.pairs, r.err
}

func TestListOpportunitiesDefaultsToActive(t *testing.T) {
	pairs := &fakePairReader{pairs: []domain.MatchedPair{{ID: "p-1", Question: "Fed cut in March?"}}}
	h := NewOpportunityHandler(pairs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := domain.PairFilter{ActiveOnly: true, Limit: 50, Offset: 0}
	if pairs.gotFilter != want {
		t.Errorf("filter = %+v, want %+v", pairs.gotFilter, want)
	}
	body := decodeMap(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
}

func TestListOpportunitiesParsesFilters(t *testing.T) {
	pairs := &fakePairReader{}
	h := NewOpportunityHandler(pairs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities?active=false&min_spread=7.5&limit=5&offset=10", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	want := domain.PairFilter{ActiveOnly: false, MinSpread: 7.5, Limit: 5, Offset: 10}
	if pairs.gotFilter != want {
		t.Errorf("filter = %+v, want %+v", pairs.gotFilter, want)
	}
	if !strings.Contains(rec.Body.String(), `"opportunities":[]`) {
		t.Errorf("body = %s, want empty array not null", rec.Body.String())
	}
}

func TestListOpportunitiesRejectsBadParams(t *testing.T) {
	h := NewOpportunityHandler(&fakePairReader{}, testLogger())

	for _, query := range []string{"active=maybe", "min_spread=-3", "min_spread=wide"} {
		req := httptest.NewRequest(http.MethodGet, "/api/opportunities?"+query, nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, rec.Code)
		}
	}
}

func TestListOpportunitiesCapsLimit(t *testing.T) {
	pairs := &fakePairReader{}
	h := NewOpportunityHandler(pairs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities?limit=9999", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if pairs.gotFilter.Limit != 500 {
		t.Errorf("limit = %d, want capped at 500", pairs.gotFilter.Limit)
	}
}

func TestGetOpportunity(t *testing.T) {
	pairs := &fakePairReader{pair: domain.MatchedPair{ID: "p-1", SpreadPercent: 12.5, Active: true}}
	h := NewOpportunityHandler(pairs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities/p-1", nil)
	req.SetPathValue("id", "p-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if pairs.gotID != "p-1" {
		t.Errorf("looked up %q", pairs.gotID)
	}
	body := decodeMap(t, rec)
	if body["SpreadPercent"] != 12.5 {
		t.Errorf("SpreadPercent = %v", body["SpreadPercent"])
	}
}

func TestGetOpportunityNotFound(t *testing.T) {
	pairs := &fakePairReader{err: fmt.Errorf("postgres: pair p-404: %w", domain.ErrNotFound)}
	h := NewOpportunityHandler(pairs, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/opportunities/p-404", nil)
	req.SetPathValue("id", "p-404")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

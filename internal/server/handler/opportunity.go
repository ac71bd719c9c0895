package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oddslane/hedgebot/internal/domain"
)

// PairReader is the slice of the pair store the opportunity endpoints read.
type PairReader interface {
	GetByID(ctx context.Context, id string) (domain.MatchedPair, error)
	List(ctx context.Context, f domain.PairFilter) ([]domain.MatchedPair, error)
}

// OpportunityHandler serves the cached cross-venue opportunities.
type OpportunityHandler struct {
	pairs  PairReader
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(pairs PairReader, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{pairs: pairs, logger: logger}
}

// listOpportunitiesResponse wraps the opportunity listing.
type listOpportunitiesResponse struct {
	Opportunities []domain.MatchedPair `json:"opportunities"`
	Count         int                  `json:"count"`
}

// List returns cached opportunities, active ones by default.
// GET /api/opportunities?active=false&min_spread=5&limit=50&offset=0
func (h *OpportunityHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	filter := domain.PairFilter{
		ActiveOnly: true,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}
	if v := q.Get("min_spread"); v != "" {
		spread, err := strconv.ParseFloat(v, 64)
		if err != nil || spread < 0 {
			writeError(w, http.StatusBadRequest, "min_spread must be a non-negative number")
			return
		}
		filter.MinSpread = spread
	}

	pairs, err := h.pairs.List(r.Context(), filter)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	if pairs == nil {
		pairs = []domain.MatchedPair{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: pairs, Count: len(pairs)})
}

// Get returns one opportunity by id.
// GET /api/opportunities/{id}
func (h *OpportunityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing opportunity id")
		return
	}

	pair, err := h.pairs.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

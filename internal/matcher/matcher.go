// Package matcher discovers semantically-equivalent binary markets across
// venues and caches the pairs whose implied-probability spread clears the
// configured floor.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
)

// Report summarizes one matcher run.
type Report struct {
	OpportunitiesFound int      `json:"opportunities_found"`
	PairsCreated       int      `json:"pairs_created"`
	PairsUpdated       int      `json:"pairs_updated"`
	PairsDeactivated   int64    `json:"pairs_deactivated"`
	Errors             []string `json:"errors,omitempty"`
}

// Matcher scans two venues for equivalent markets trading at different
// implied probabilities and maintains the matched-pair book.
type Matcher struct {
	venue1    domain.VenueAdapter
	venue2    domain.VenueAdapter
	pairs     domain.PairStore
	snapshots domain.SnapshotCache
	bus       domain.EventBus
	audit     domain.AuditStore
	cfg       config.MatcherConfig
	logger    *slog.Logger
}

// New creates a Matcher over two venue adapters. snapshots, bus, and audit
// are optional; a nil value disables that side effect.
func New(
	venue1, venue2 domain.VenueAdapter,
	pairs domain.PairStore,
	snapshots domain.SnapshotCache,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg config.MatcherConfig,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		venue1:    venue1,
		venue2:    venue2,
		pairs:     pairs,
		snapshots: snapshots,
		bus:       bus,
		audit:     audit,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "matcher")),
	}
}

// FindAndCacheOpportunities fetches both venues, pairs equivalent markets,
// and upserts every pair whose spread is at least minSpreadPercent. Pairs
// not re-found this run are deactivated, never deleted. A venue fetch
// failure is reported in the result and skips both matching and
// deactivation: one venue being down says nothing about which pairs died.
func (m *Matcher) FindAndCacheOpportunities(ctx context.Context, minSpreadPercent float64) (Report, error) {
	start := time.Now().UTC()
	if minSpreadPercent <= 0 {
		minSpreadPercent = m.cfg.MinSpreadPercent
	}

	var report Report

	var (
		markets1, markets2   []domain.Market
		fetchErr1, fetchErr2 error
	)
	var g errgroup.Group
	g.Go(func() error {
		markets1, fetchErr1 = m.fetchVenue(ctx, m.venue1)
		return nil
	})
	g.Go(func() error {
		markets2, fetchErr2 = m.fetchVenue(ctx, m.venue2)
		return nil
	})
	_ = g.Wait()

	if fetchErr1 != nil {
		report.Errors = append(report.Errors, fetchErr1.Error())
	}
	if fetchErr2 != nil {
		report.Errors = append(report.Errors, fetchErr2.Error())
	}
	if fetchErr1 != nil || fetchErr2 != nil {
		m.logger.WarnContext(ctx, "matcher run aborted, venue fetch failed",
			slog.Int("errors", len(report.Errors)),
		)
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	eligible1 := m.eligible(markets1, start)
	eligible2 := m.eligible(markets2, start)
	candidates := matchCandidates(eligible1, eligible2, m.cfg.MinSimilarity)

	m.logger.DebugContext(ctx, "matching complete",
		slog.Int("venue1_eligible", len(eligible1)),
		slog.Int("venue2_eligible", len(eligible2)),
		slog.Int("candidates", len(candidates)),
	)

	for i, c := range candidates {
		if m.cfg.MaxPairsPerRun > 0 && report.OpportunitiesFound >= m.cfg.MaxPairsPerRun {
			m.logger.WarnContext(ctx, "pair cap reached, remaining candidates dropped",
				slog.Int("cap", m.cfg.MaxPairsPerRun),
				slog.Int("dropped", len(candidates)-i),
			)
			break
		}

		spread := domain.SpreadPercent(c.m1.YesTicks, c.m2.YesTicks)
		if spread < minSpreadPercent {
			continue
		}
		report.OpportunitiesFound++

		pair := domain.MatchedPair{
			PairKey:       domain.PairKeyFor(c.m1.Venue, c.m1.ID, c.m2.Venue, c.m2.ID),
			Market1Venue:  c.m1.Venue,
			Market1ID:     c.m1.ID,
			Market2Venue:  c.m2.Venue,
			Market2ID:     c.m2.ID,
			Question:      c.m1.Question,
			Similarity:    c.score,
			Market1Ticks:  c.m1.YesTicks,
			Market2Ticks:  c.m2.YesTicks,
			SpreadPercent: spread,
			Liquidity:     min(c.m1.Liquidity, c.m2.Liquidity),
			Active:        true,
			Deadline:      earlierOf(c.m1.EndDate, c.m2.EndDate),
			LastCheckedAt: start,
		}

		stored, created, err := m.pairs.Upsert(ctx, pair)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("upsert pair %s/%s: %v", c.m1.ID, c.m2.ID, err))
			continue
		}
		if created {
			report.PairsCreated++
		} else {
			report.PairsUpdated++
		}
		m.publish(ctx, created, stored)
	}

	deactivated, err := m.pairs.DeactivateCheckedBefore(ctx, start)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("deactivate unrefreshed pairs: %v", err))
	} else {
		report.PairsDeactivated = deactivated
	}

	m.writeAudit(ctx, start, minSpreadPercent, report)

	m.logger.InfoContext(ctx, "matcher run complete",
		slog.Int("opportunities_found", report.OpportunitiesFound),
		slog.Int("pairs_created", report.PairsCreated),
		slog.Int("pairs_updated", report.PairsUpdated),
		slog.Int64("pairs_deactivated", report.PairsDeactivated),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// fetchVenue lists a venue's active markets and refreshes the read-API
// snapshot. The snapshot write is best effort.
func (m *Matcher) fetchVenue(ctx context.Context, v domain.VenueAdapter) ([]domain.Market, error) {
	markets, err := v.ListActiveMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s markets: %w", v.Name(), err)
	}
	if m.snapshots != nil {
		if err := m.snapshots.SetSnapshot(ctx, v.Name(), markets); err != nil {
			m.logger.WarnContext(ctx, "snapshot write failed",
				slog.String("venue", string(v.Name())),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.DebugContext(ctx, "venue fetched",
		slog.String("venue", string(v.Name())),
		slog.Int("markets", len(markets)),
	)
	return markets, nil
}

// eligible filters a venue's markets down to the ones worth pairing: live,
// priced inside the book, liquid enough, and with a known end date so the
// pair has a settlement horizon.
func (m *Matcher) eligible(markets []domain.Market, now time.Time) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	for _, mk := range markets {
		if !mk.Active || mk.YesTicks <= 0 || mk.YesTicks >= domain.PriceScale {
			continue
		}
		if mk.Liquidity < m.cfg.MinLiquidity {
			continue
		}
		if mk.EndDate.IsZero() || !mk.EndDate.After(now) {
			continue
		}
		out = append(out, mk)
	}
	return out
}

func (m *Matcher) publish(ctx context.Context, created bool, pair domain.MatchedPair) {
	if m.bus == nil {
		return
	}
	typ := domain.EventOpportunityUpdated
	if created {
		typ = domain.EventOpportunityFound
	}
	evt := domain.Event{
		Type: typ,
		At:   time.Now().UTC(),
		Detail: map[string]any{
			"pair_id":        pair.ID,
			"question":       pair.Question,
			"spread_percent": pair.SpreadPercent,
			"liquidity":      pair.Liquidity,
		},
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Matcher) writeAudit(ctx context.Context, start time.Time, minSpread float64, report Report) {
	if m.audit == nil {
		return
	}
	err := m.audit.Log(ctx, "matcher_run", map[string]any{
		"min_spread_percent":  minSpread,
		"opportunities_found": report.OpportunitiesFound,
		"pairs_created":       report.PairsCreated,
		"pairs_updated":       report.PairsUpdated,
		"pairs_deactivated":   report.PairsDeactivated,
		"errors":              len(report.Errors),
		"duration_ms":         time.Since(start).Milliseconds(),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
}

type candidate struct {
	m1, m2 domain.Market
	score  float64
}

// matchCandidates scores every cross-venue question pair above the
// similarity floor, then greedily keeps the best matches with each market
// used at most once.
func matchCandidates(side1, side2 []domain.Market, minSimilarity float64) []candidate {
	var scored []candidate
	for i := range side1 {
		for j := range side2 {
			s := marketSimilarity(side1[i], side2[j])
			if s < minSimilarity {
				continue
			}
			scored = append(scored, candidate{m1: side1[i], m2: side2[j], score: s})
		}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].score > scored[b].score })

	used1 := make(map[string]bool)
	used2 := make(map[string]bool)
	out := scored[:0]
	for _, c := range scored {
		if used1[c.m1.ID] || used2[c.m2.ID] {
			continue
		}
		used1[c.m1.ID] = true
		used2[c.m2.ID] = true
		out = append(out, c)
	}
	return out
}

// earlierOf returns the earlier of two deadlines, tolerating a zero value on
// either side.
func earlierOf(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

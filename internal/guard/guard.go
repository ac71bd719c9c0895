// Package guard shields venue adapters behind a shared rate limit and a
// circuit breaker. Both protections fail fast: a throttled call returns
// ErrRateLimited and a tripped breaker returns ErrCircuitOpen, so callers
// can tell "venue said no" from "we chose not to ask".
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

// Config sets the per-venue protection knobs.
type Config struct {
	RateLimit   int           // calls allowed per window
	RateWindow  time.Duration // sliding window size
	Threshold   int           // consecutive failures before the breaker opens
	Cooldown    time.Duration // open duration before half-open probing
	HalfOpenMax int           // probes admitted while half-open
}

// Guard combines a distributed rate limiter with a local circuit breaker
// for one venue. The limiter is shared across processes through its store;
// the breaker is process-local so each instance reacts to the failures it
// actually sees.
type Guard struct {
	venue   domain.VenueName
	limiter domain.RateLimiter
	breaker *Breaker
	cfg     Config
	logger  *slog.Logger
}

// New creates a guard for the named venue.
func New(venue domain.VenueName, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		venue:   venue,
		limiter: limiter,
		breaker: NewBreaker(string(venue), cfg.Threshold, cfg.Cooldown, cfg.HalfOpenMax, logger),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "guard"), slog.String("venue", string(venue))),
	}
}

// Call runs fn under the venue's protections. It returns ErrRateLimited or
// ErrCircuitOpen without invoking fn when a protection rejects the call.
func (g *Guard) Call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !g.breaker.Allow() {
		return fmt.Errorf("guard: %s %s: %w", g.venue, op, domain.ErrCircuitOpen)
	}

	allowed, err := g.limiter.Allow(ctx, "venue:"+string(g.venue), g.cfg.RateLimit, g.cfg.RateWindow)
	if err != nil {
		// A limiter store outage must not take the venue down with it.
		g.logger.WarnContext(ctx, "rate limiter unavailable, allowing call",
			slog.String("op", op),
			slog.String("error", err.Error()))
	} else if !allowed {
		return fmt.Errorf("guard: %s %s: %w", g.venue, op, domain.ErrRateLimited)
	}

	err = fn(ctx)
	if countsAsVenueFailure(err) {
		g.breaker.RecordFailure()
	} else {
		g.breaker.RecordSuccess()
	}
	return err
}

// countsAsVenueFailure reports whether err should trip the breaker. Missing
// markets and caller-side cancellations are valid answers, not venue faults.
func countsAsVenueFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrValidation) {
		return false
	}
	return true
}

// Breaker exposes the underlying breaker for status reporting.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Venue wraps a VenueAdapter so every outbound call passes through the
// venue's guard.
type Venue struct {
	inner domain.VenueAdapter
	guard *Guard
}

// WrapVenue returns an adapter whose calls run under g.
func WrapVenue(inner domain.VenueAdapter, g *Guard) *Venue {
	return &Venue{inner: inner, guard: g}
}

func (v *Venue) Name() domain.VenueName { return v.inner.Name() }

func (v *Venue) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	var markets []domain.Market
	err := v.guard.Call(ctx, "list_markets", func(ctx context.Context) error {
		var err error
		markets, err = v.inner.ListActiveMarkets(ctx)
		return err
	})
	return markets, err
}

func (v *Venue) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var market domain.Market
	err := v.guard.Call(ctx, "get_market", func(ctx context.Context) error {
		var err error
		market, err = v.inner.GetMarket(ctx, id)
		return err
	})
	return market, err
}

func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var result domain.OrderResult
	err := v.guard.Call(ctx, "place_order", func(ctx context.Context) error {
		var err error
		result, err = v.inner.PlaceOrder(ctx, req)
		return err
	})
	return result, err
}

func (v *Venue) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	var res domain.Resolution
	err := v.guard.Call(ctx, "get_resolution", func(ctx context.Context) error {
		var err error
		res, err = v.inner.GetResolution(ctx, marketID)
		return err
	})
	return res, err
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Venue)(nil)

package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

func (f *fakeLimiter) Wait(ctx context.Context, key string) error { return nil }

func testConfig() Config {
	return Config{
		RateLimit:   10,
		RateWindow:  time.Second,
		Threshold:   3,
		Cooldown:    20 * time.Millisecond,
		HalfOpenMax: 1,
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute, 1, testLogger())

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d: breaker rejected before threshold", i)
		}
		b.RecordFailure()
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond, 1, testLogger())

	b.Allow()
	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker rejected the probe after cooldown")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after successful probe", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond, 1, testLogger())

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker rejected the probe after cooldown")
	}
	b.RecordFailure()

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", got)
	}
}

func TestBreakerLimitsHalfOpenProbes(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond, 2, testLogger())

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first probe rejected")
	}
	if !b.Allow() {
		t.Fatal("second probe rejected")
	}
	if b.Allow() {
		t.Fatal("third probe allowed past the half-open cap")
	}
}

func TestCallReturnsRateLimited(t *testing.T) {
	lim := &fakeLimiter{allowed: false}
	g := New(domain.VenuePolymarket, lim, testConfig(), testLogger())

	invoked := false
	err := g.Call(context.Background(), "list_markets", func(ctx context.Context) error {
		invoked = true
		return nil
	})

	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if invoked {
		t.Fatal("fn ran despite the rate limit")
	}
}

func TestCallReturnsCircuitOpen(t *testing.T) {
	lim := &fakeLimiter{allowed: true}
	g := New(domain.VenueKalshi, lim, testConfig(), testLogger())

	venueErr := errors.New("venue: boom")
	for i := 0; i < 3; i++ {
		err := g.Call(context.Background(), "place_order", func(ctx context.Context) error {
			return venueErr
		})
		if !errors.Is(err, venueErr) {
			t.Fatalf("call %d: err = %v, want venue error", i, err)
		}
	}

	invoked := false
	err := g.Call(context.Background(), "place_order", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("fn ran despite the open breaker")
	}
}

func TestCallFailsOpenWhenLimiterErrors(t *testing.T) {
	lim := &fakeLimiter{allowed: false, err: errors.New("redis: connection refused")}
	g := New(domain.VenuePolymarket, lim, testConfig(), testLogger())

	invoked := false
	err := g.Call(context.Background(), "get_market", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if !invoked {
		t.Fatal("fn skipped although the limiter store was merely unavailable")
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	lim := &fakeLimiter{allowed: true}
	g := New(domain.VenuePolymarket, lim, testConfig(), testLogger())

	for i := 0; i < 10; i++ {
		err := g.Call(context.Background(), "get_market", func(ctx context.Context) error {
			return domain.ErrNotFound
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("call %d: err = %v, want ErrNotFound", i, err)
		}
	}

	if got := g.Breaker().State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after not-found responses", got)
	}
}

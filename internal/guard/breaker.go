package guard

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int32

const (
	// StateClosed allows requests through.
	StateClosed BreakerState = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probes through to test recovery.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a three-state circuit breaker. State lives in atomics so the
// hot path never takes a lock; transitions use compare-and-swap so exactly
// one caller performs each state change.
type Breaker struct {
	name        string
	threshold   int64
	cooldown    time.Duration
	halfOpenMax int64

	state       int32
	failures    int64
	lastFailure int64 // unix nanos
	halfOpenSeq int64

	total     int64
	successes int64
	failed    int64

	logger *slog.Logger
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and, after cooldown, admits up to halfOpenMax probe requests.
func NewBreaker(name string, threshold int, cooldown time.Duration, halfOpenMax int, logger *slog.Logger) *Breaker {
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}
	return &Breaker{
		name:        name,
		threshold:   int64(threshold),
		cooldown:    cooldown,
		halfOpenMax: int64(halfOpenMax),
		state:       int32(StateClosed),
		logger:      logger.With(slog.String("component", "breaker"), slog.String("name", name)),
	}
}

// Allow reports whether a request may proceed right now. An open breaker
// whose cooldown has elapsed flips to half-open and admits the caller as
// the first probe.
func (b *Breaker) Allow() bool {
	atomic.AddInt64(&b.total, 1)

	state := BreakerState(atomic.LoadInt32(&b.state))
	now := time.Now().UnixNano()

	switch state {
	case StateClosed:
		return true

	case StateOpen:
		last := atomic.LoadInt64(&b.lastFailure)
		if now-last < b.cooldown.Nanoseconds() {
			return false
		}
		if atomic.CompareAndSwapInt32(&b.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt64(&b.halfOpenSeq, 0)
			b.logger.Info("breaker half-open, probing")
		}
		return atomic.AddInt64(&b.halfOpenSeq, 1) <= b.halfOpenMax

	case StateHalfOpen:
		return atomic.AddInt64(&b.halfOpenSeq, 1) <= b.halfOpenMax

	default:
		return false
	}
}

// RecordSuccess notes a successful call. Enough successful half-open probes
// close the breaker and clear the failure count.
func (b *Breaker) RecordSuccess() {
	atomic.AddInt64(&b.successes, 1)

	if BreakerState(atomic.LoadInt32(&b.state)) != StateHalfOpen {
		return
	}
	if atomic.LoadInt64(&b.halfOpenSeq) >= b.halfOpenMax {
		if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateClosed)) {
			atomic.StoreInt64(&b.failures, 0)
			b.logger.Info("breaker closed after successful probes")
		}
	}
}

// RecordFailure notes a failed call. Reaching the threshold opens the
// breaker; any failure during half-open reopens it immediately.
func (b *Breaker) RecordFailure() {
	atomic.AddInt64(&b.failed, 1)
	failures := atomic.AddInt64(&b.failures, 1)
	atomic.StoreInt64(&b.lastFailure, time.Now().UnixNano())

	switch BreakerState(atomic.LoadInt32(&b.state)) {
	case StateClosed:
		if failures >= b.threshold {
			if atomic.CompareAndSwapInt32(&b.state, int32(StateClosed), int32(StateOpen)) {
				b.logger.Warn("breaker opened",
					slog.Int64("failures", failures),
					slog.Int64("threshold", b.threshold))
			}
		}
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateOpen)) {
			b.logger.Warn("breaker reopened, probe failed")
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&b.state))
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	atomic.StoreInt32(&b.state, int32(StateClosed))
	atomic.StoreInt64(&b.failures, 0)
	atomic.StoreInt64(&b.halfOpenSeq, 0)
	b.logger.Info("breaker reset")
}

// BreakerMetrics is a point-in-time snapshot of breaker counters.
type BreakerMetrics struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Total       int64     `json:"total"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

// Metrics returns a snapshot of the breaker's counters.
func (b *Breaker) Metrics() BreakerMetrics {
	return BreakerMetrics{
		Name:        b.name,
		State:       b.State().String(),
		Total:       atomic.LoadInt64(&b.total),
		Successes:   atomic.LoadInt64(&b.successes),
		Failures:    atomic.LoadInt64(&b.failed),
		LastFailure: time.Unix(0, atomic.LoadInt64(&b.lastFailure)),
	}
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PairFilter narrows matched-pair listings.
type PairFilter struct {
	ActiveOnly bool
	MinSpread  float64
	Limit      int
	Offset     int
}

// PairStore persists matched pairs. Upsert is keyed on PairKey, so a
// re-discovered pair updates its existing row and keeps its id.
type PairStore interface {
	// Upsert inserts or refreshes a pair and returns the stored row plus
	// whether a new row was created.
	Upsert(ctx context.Context, pair MatchedPair) (MatchedPair, bool, error)
	GetByID(ctx context.Context, id string) (MatchedPair, error)
	List(ctx context.Context, f PairFilter) ([]MatchedPair, error)
	// DeactivateCheckedBefore flips active=false on every active pair whose
	// LastCheckedAt predates cutoff and reports how many rows changed.
	DeactivateCheckedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListDeactivatedBetween(ctx context.Context, from, to time.Time, limit int) ([]MatchedPair, error)
	Count(ctx context.Context, activeOnly bool) (int64, error)
}

// TradeUpdate carries the fields written alongside a status transition.
// Nil fields are left untouched.
type TradeUpdate struct {
	Leg1          *TradeLeg
	Leg2          *TradeLeg
	ActualProfit  *int64
	FailureReason *string
	SettledAt     *time.Time
}

// TradeFilter narrows per-user trade listings.
type TradeFilter struct {
	Status      TradeStatus // empty matches all
	SettledOnly bool
	Limit       int
	Offset      int
}

// TradeStore persists arbitrage trades. Transition performs a
// compare-and-set on status so concurrent writers cannot cross a state
// machine edge twice.
type TradeStore interface {
	Create(ctx context.Context, trade ArbitrageTrade) error
	GetByID(ctx context.Context, id string) (ArbitrageTrade, error)
	// Transition moves id from one status to another atomically, applying
	// upd in the same statement. Returns ErrInvalidTransition when the row
	// is no longer in the from status, ErrNotFound when it does not exist.
	Transition(ctx context.Context, id string, from, to TradeStatus, upd TradeUpdate) error
	ListByUser(ctx context.Context, userID string, f TradeFilter) ([]ArbitrageTrade, error)
	ListByStatus(ctx context.Context, status TradeStatus, opts ListOpts) ([]ArbitrageTrade, error)
	// ListExpired returns non-terminal trades whose pair deadline passed
	// before asOf without the trade reaching settlement.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]ArbitrageTrade, error)
	ListSettledBetween(ctx context.Context, from, to time.Time, limit int) ([]ArbitrageTrade, error)
	SumProfit(ctx context.Context, since time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

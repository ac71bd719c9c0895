package domain

import "context"

// OutcomeSide selects which binary outcome an order trades.
type OutcomeSide string

const (
	SideYes OutcomeSide = "yes"
	SideNo  OutcomeSide = "no"
)

// Opposite returns the other outcome.
func (s OutcomeSide) Opposite() OutcomeSide {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderAction distinguishes opening a position from unwinding one.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderRequest asks a venue to execute one leg.
type OrderRequest struct {
	MarketID string
	Side     OutcomeSide
	Action   OrderAction
	// Amount is the spend in minor units for buys, or the share quantity
	// in fixed-point 1e6 units for sells.
	Amount int64
}

// OrderResult is the venue's confirmation of an executed order.
type OrderResult struct {
	OrderID        string
	SharesReceived int64 // fixed-point 1e6; shares disposed for sells
	ExecutionPrice int64 // ticks
}

// Resolution is a venue's terminal outcome report for a market.
type Resolution struct {
	Resolved       bool
	WinningSide    OutcomeSide // meaningful only when Resolved
	PayoutPerShare int64       // minor units paid per winning share
}

// VenueAdapter is the per-venue client surface the core consumes. Every
// method performs blocking I/O and honors the context deadline. Callers
// reach adapters through a guard.Guard, never directly.
type VenueAdapter interface {
	Name() VenueName
	ListActiveMarkets(ctx context.Context) ([]Market, error)
	GetMarket(ctx context.Context, id string) (Market, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetResolution(ctx context.Context, marketID string) (Resolution, error)
}

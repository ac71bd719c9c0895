package domain

import "time"

// TradeStatus is the lifecycle state of an arbitrage trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusPartial   TradeStatus = "partial"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusSettled   TradeStatus = "settled"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusStale     TradeStatus = "stale"
)

// tradeTransitions holds the allowed forward edges of the trade state
// machine. Settled, failed and stale are terminal: nothing leaves them.
var tradeTransitions = map[TradeStatus]map[TradeStatus]bool{
	TradeStatusPending: {
		TradeStatusPartial:   true,
		TradeStatusCompleted: true,
		TradeStatusFailed:    true,
		TradeStatusStale:     true,
	},
	TradeStatusPartial: {
		TradeStatusCompleted: true,
		TradeStatusFailed:    true,
		TradeStatusStale:     true,
	},
	TradeStatusCompleted: {
		TradeStatusSettled: true,
		TradeStatusStale:   true,
	},
}

// Terminal reports whether no transition may leave this status.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusSettled || s == TradeStatusFailed || s == TradeStatusStale
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	return tradeTransitions[s][next]
}

// TradeLeg is one side of a hedged position, placed on one venue.
type TradeLeg struct {
	Venue        VenueName
	MarketID     string
	Side         OutcomeSide
	Amount       int64   // capital allocated to this leg, minor units
	OrderID      *string // venue-assigned order id, nil until placed
	SharesMicros int64   // shares received, fixed-point 1e6
	PriceTicks   int64   // execution price
	Error        string  // venue error when placement failed
}

// Executed reports whether the venue confirmed an order for this leg.
func (l TradeLeg) Executed() bool { return l.OrderID != nil }

// Shares returns the display share quantity.
func (l TradeLeg) Shares() float64 { return float64(l.SharesMicros) / float64(PriceScale) }

// ArbitrageTrade is one two-legged hedged position. Rows are never deleted:
// terminal trades are the financial audit trail.
type ArbitrageTrade struct {
	ID               string
	UserID           string
	OpportunityID    string // MatchedPair id
	InvestmentAmount int64  // total committed capital, minor units
	Leg1             TradeLeg
	Leg2             TradeLeg
	Status           TradeStatus
	ExpectedProfit   int64  // estimated at allocation time, minor units
	ActualProfit     *int64 // set at settlement or close, minor units
	FailureReason    string
	CreatedAt        time.Time
	SettledAt        *time.Time
}

// TotalCost returns the capital committed across executed legs.
func (t ArbitrageTrade) TotalCost() int64 {
	var total int64
	if t.Leg1.Executed() {
		total += t.Leg1.Amount
	}
	if t.Leg2.Executed() {
		total += t.Leg2.Amount
	}
	return total
}

// RealizedBase is the running realized balance a close or settlement adds
// proceeds onto: the prior recorded profit when one exists, otherwise the
// full committed cost as a loss.
func (t ArbitrageTrade) RealizedBase() int64 {
	if t.ActualProfit != nil {
		return *t.ActualProfit
	}
	return -t.TotalCost()
}

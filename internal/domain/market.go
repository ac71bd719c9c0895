package domain

import "time"

// PriceScale is the fixed-point denominator for prices and share
// quantities: 1e6 ticks = implied probability 1.0 = one share.
const PriceScale int64 = 1_000_000

// VenueName identifies one of the external trading venues.
type VenueName string

const (
	VenuePolymarket VenueName = "polymarket"
	VenueKalshi     VenueName = "kalshi"
)

// Market is a venue-normalized snapshot of one binary-outcome market.
type Market struct {
	Venue     VenueName
	ID        string // venue-scoped identifier
	Question  string
	Category  string
	YesTicks  int64 // implied YES probability, fixed-point 1e6
	Liquidity int64 // tradeable depth in minor units
	EndDate   time.Time
	Active    bool
	FetchedAt time.Time
}

// YesPrice returns the implied YES probability as a display float.
func (m Market) YesPrice() float64 {
	return float64(m.YesTicks) / float64(PriceScale)
}

// NoTicks returns the implied NO probability in ticks.
func (m Market) NoTicks() int64 {
	return PriceScale - m.YesTicks
}

// SpreadPercent returns the absolute YES-probability difference between two
// prices on a 0-100 scale.
func SpreadPercent(aTicks, bTicks int64) float64 {
	d := aTicks - bTicks
	if d < 0 {
		d = -d
	}
	return float64(d) * 100 / float64(PriceScale)
}

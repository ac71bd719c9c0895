package domain

import "github.com/shopspring/decimal"

// WinnerPayoutMinor is what one winning share pays at resolution on either
// venue: $1.00 in minor units.
const WinnerPayoutMinor = 100

// ticksPerMinorUnit converts a price in ticks to minor units per share:
// PriceScale ticks = $1.00 = 100 minor units.
const ticksPerMinorUnit = PriceScale / WinnerPayoutMinor

// CostOfShares returns the minor-unit cost of a share quantity at a tick
// price, floored.
func CostOfShares(sharesMicros, priceTicks int64) int64 {
	return decimal.NewFromInt(sharesMicros).
		Mul(decimal.NewFromInt(priceTicks)).
		Div(decimal.NewFromInt(PriceScale)).
		Div(decimal.NewFromInt(ticksPerMinorUnit)).
		Floor().
		IntPart()
}

// PayoutOfShares returns the minor units paid for winning shares at the
// venue-reported payout per share.
func PayoutOfShares(sharesMicros, payoutPerShareMinor int64) int64 {
	return decimal.NewFromInt(sharesMicros).
		Mul(decimal.NewFromInt(payoutPerShareMinor)).
		Div(decimal.NewFromInt(PriceScale)).
		Floor().
		IntPart()
}

package trading

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oddslane/hedgebot/internal/domain"
)

// ticksPerMinorUnit converts a price in ticks to minor units per share:
// PriceScale ticks = $1.00 = 100 minor units.
const ticksPerMinorUnit = domain.PriceScale / domain.WinnerPayoutMinor

// Allocation is the capital split across the two legs of one hedge. Both
// legs target the same share count, so exactly one leg pays out the full
// share value at resolution no matter which way the market settles.
type Allocation struct {
	Leg1Amount     int64 // minor units
	Leg2Amount     int64 // minor units
	SharesMicros   int64 // target shares per leg, fixed-point 1e6
	ExpectedProfit int64 // payout minus total spend, minor units
}

// allocate splits investment across two legs priced price1 and price2 ticks.
// Share count is floor(investment / (price1 + price2)) so the spend never
// exceeds the investment, and each leg's amount is floored from its share
// cost, keeping leg1 + leg2 <= investment with both legs funded.
func allocate(investment, price1Ticks, price2Ticks int64) (Allocation, error) {
	if investment <= 0 {
		return Allocation{}, fmt.Errorf("trading: allocate: %w: investment must be positive", domain.ErrValidation)
	}
	if price1Ticks <= 0 || price2Ticks <= 0 {
		return Allocation{}, fmt.Errorf("trading: allocate: %w: leg prices must be positive", domain.ErrValidation)
	}

	scale := decimal.NewFromInt(domain.PriceScale)
	perShare1 := decimal.NewFromInt(price1Ticks).Div(decimal.NewFromInt(ticksPerMinorUnit))
	perShare2 := decimal.NewFromInt(price2Ticks).Div(decimal.NewFromInt(ticksPerMinorUnit))
	combined := perShare1.Add(perShare2)

	shares := decimal.NewFromInt(investment).Div(combined)
	sharesMicros := shares.Mul(scale).Floor()
	if !sharesMicros.IsPositive() {
		return Allocation{}, fmt.Errorf("trading: allocate: %w: investment %d buys no shares", domain.ErrValidation, investment)
	}

	bought := sharesMicros.Div(scale)
	leg1 := bought.Mul(perShare1).Floor().IntPart()
	leg2 := bought.Mul(perShare2).Floor().IntPart()
	if leg1 <= 0 || leg2 <= 0 {
		return Allocation{}, fmt.Errorf("trading: allocate: %w: investment %d cannot fund both legs", domain.ErrValidation, investment)
	}

	payout := sharesMicros.Mul(decimal.NewFromInt(domain.WinnerPayoutMinor)).Div(scale).Floor().IntPart()
	return Allocation{
		Leg1Amount:     leg1,
		Leg2Amount:     leg2,
		SharesMicros:   sharesMicros.IntPart(),
		ExpectedProfit: payout - leg1 - leg2,
	}, nil
}

package trading

import (
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

// LegPnL is one leg's cost and payout picture.
type LegPnL struct {
	Venue        domain.VenueName   `json:"venue"`
	Side         domain.OutcomeSide `json:"side"`
	Cost         int64              `json:"cost"`
	SharesMicros int64              `json:"shares_micros"`
	PayoutIfWins int64              `json:"payout_if_wins"`
}

// PnLReport is the profit picture of one trade. All amounts are minor units.
// The two legs sit on opposite outcomes of the same event, so exactly one of
// them pays at resolution: guaranteed is the worse of the two payouts minus
// cost, best case the better.
type PnLReport struct {
	TradeID          string             `json:"trade_id"`
	Status           domain.TradeStatus `json:"status"`
	InvestmentAmount int64              `json:"investment_amount"`
	TotalCost        int64              `json:"total_cost"`
	Leg1             LegPnL             `json:"leg1"`
	Leg2             LegPnL             `json:"leg2"`
	ExpectedProfit   int64              `json:"expected_profit"`
	GuaranteedProfit int64              `json:"guaranteed_profit"`
	BestCaseProfit   int64              `json:"best_case_profit"`
	// MarkProfit values open positions at live quotes. Nil for terminal
	// trades and when a venue quote is unavailable.
	MarkProfit   *int64     `json:"mark_profit,omitempty"`
	ActualProfit *int64     `json:"actual_profit,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

func legPnL(l domain.TradeLeg) LegPnL {
	var cost int64
	if l.Executed() {
		cost = l.Amount
	}
	return LegPnL{
		Venue:        l.Venue,
		Side:         l.Side,
		Cost:         cost,
		SharesMicros: l.SharesMicros,
		PayoutIfWins: domain.PayoutOfShares(l.SharesMicros, domain.WinnerPayoutMinor),
	}
}

// buildPnL derives a PnLReport from a trade's recorded fills. Pure: no
// venue calls, no store writes, safe on a trade in any state.
func buildPnL(t domain.ArbitrageTrade) PnLReport {
	cost := t.TotalCost()
	leg1 := legPnL(t.Leg1)
	leg2 := legPnL(t.Leg2)

	guaranteed := min(leg1.PayoutIfWins, leg2.PayoutIfWins) - cost
	best := max(leg1.PayoutIfWins, leg2.PayoutIfWins) - cost
	if cost == 0 {
		guaranteed, best = 0, 0
	}

	return PnLReport{
		TradeID:          t.ID,
		Status:           t.Status,
		InvestmentAmount: t.InvestmentAmount,
		TotalCost:        cost,
		Leg1:             leg1,
		Leg2:             leg2,
		ExpectedProfit:   t.ExpectedProfit,
		GuaranteedProfit: guaranteed,
		BestCaseProfit:   best,
		ActualProfit:     t.ActualProfit,
		SettledAt:        t.SettledAt,
	}
}

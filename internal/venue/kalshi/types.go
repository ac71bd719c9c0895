package kalshi

import (
	"strings"
	"time"

	"github.com/oddslane/hedgebot/internal/domain"
)

// ticksPerCent converts Kalshi's integer-cent prices (1-99) to fixed-point
// price ticks.
const ticksPerCent = domain.PriceScale / 100

// APIMarket represents a market as returned by the Kalshi REST API.
// All prices are integer cents.
type APIMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	Status         string `json:"status"` // "initialized", "active", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	Liquidity      int64  `json:"liquidity"` // cents
	OpenInterest   int64  `json:"open_interest"`
	Category       string `json:"category"`
	CloseTime      string `json:"close_time"`
	ExpirationTime string `json:"expiration_time"`
	Result         string `json:"result"` // "yes", "no", "void", "" while unsettled
	CanCloseEarly  bool   `json:"can_close_early"`
}

// toDomainMarket converts a Kalshi market to the shared representation.
// Returns false when no usable yes price is quoted.
func (m *APIMarket) toDomainMarket(fetchedAt time.Time) (domain.Market, bool) {
	cents := m.YesAsk
	if cents <= 0 {
		cents = m.LastPrice
	}
	if cents <= 0 || cents >= 100 {
		return domain.Market{}, false
	}

	dm := domain.Market{
		Venue:     domain.VenueKalshi,
		ID:        m.Ticker,
		Question:  m.Title,
		Category:  strings.ToLower(m.Category),
		YesTicks:  cents * ticksPerCent,
		Liquidity: m.Liquidity,
		Active:    m.Status == "active" || m.Status == "open",
		FetchedAt: fetchedAt,
	}
	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			dm.EndDate = t
		}
	}
	return dm, true
}

// priceCentsFor returns the quoted price in cents for taking the given side
// of the book.
func (m *APIMarket) priceCentsFor(side domain.OutcomeSide, action domain.OrderAction) int64 {
	switch {
	case side == domain.SideYes && action == domain.ActionBuy:
		return m.YesAsk
	case side == domain.SideYes && action == domain.ActionSell:
		return m.YesBid
	case side == domain.SideNo && action == domain.ActionBuy:
		return m.NoAsk
	default:
		return m.NoBid
	}
}

// APIOrder is the payload for placing an order on the Kalshi exchange.
type APIOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`  // number of contracts
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"`
	SellPosFloor  *int64 `json:"sell_position_floor,omitempty"`
}

// APIOrderResponse is the exchange's confirmation after placing an order.
type APIOrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		RemainingCount int64  `json:"remaining_count"`
		TakerFillCount int64  `json:"taker_fill_count"`
		TakerFillCost  int64  `json:"taker_fill_cost"` // cents
	} `json:"order"`
}

// APIErrorResponse is Kalshi's error envelope.
type APIErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

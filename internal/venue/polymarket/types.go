package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslane/hedgebot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ConditionID     string   `json:"condition_id"`
	Slug            string   `json:"slug"`
	Category        string   `json:"category"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	Outcomes        string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices   string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.45\",\"0.55\"]"
	Tokens          []Token  `json:"tokens"`
	Liquidity       string   `json:"liquidity"` // dollars, decimal string
	Volume          string   `json:"volume"`
	EndDateISO      string   `json:"end_date_iso"`
	EnableOrderBook bool     `json:"enable_order_book"`
	ClobTokenIDs    string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// toDomainMarket converts a Gamma APIMarket to a domain.Market. Returns
// false when the market is not a tradable binary (no yes price or no
// orderbook tokens).
func (m *APIMarket) toDomainMarket(fetchedAt time.Time) (domain.Market, bool) {
	yesTicks, ok := m.yesTicks()
	if !ok {
		return domain.Market{}, false
	}

	dm := domain.Market{
		Venue:     domain.VenuePolymarket,
		ID:        m.ID,
		Question:  m.Question,
		Category:  m.Category,
		YesTicks:  yesTicks,
		Active:    bool(m.Active) && !m.Closed,
		FetchedAt: fetchedAt,
	}

	if liq, err := decimal.NewFromString(m.Liquidity); err == nil {
		dm.Liquidity = liq.Mul(decimal.NewFromInt(100)).IntPart()
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.EndDate = t
		}
	}

	return dm, true
}

// yesTicks extracts the Yes outcome price as fixed-point ticks. The Gamma
// API double-encodes outcomePrices as a JSON string of a JSON array.
func (m *APIMarket) yesTicks() (int64, bool) {
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) == 0 {
		return 0, false
	}
	p, err := decimal.NewFromString(prices[0])
	if err != nil {
		return 0, false
	}
	ticks := p.Mul(decimal.NewFromInt(domain.PriceScale)).IntPart()
	if ticks <= 0 || ticks >= domain.PriceScale {
		return 0, false
	}
	return ticks, true
}

// clobTokenID returns the CLOB token id for the given outcome side. The
// clob_token_ids field is ordered [yes, no].
func (m *APIMarket) clobTokenID(side domain.OutcomeSide) (string, bool) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil || len(ids) < 2 {
		return "", false
	}
	if side == domain.SideYes {
		return ids[0], true
	}
	return ids[1], true
}

// winner returns the winning side reported by the Gamma tokens array, if
// any token carries the winner flag yet.
func (m *APIMarket) winner() (domain.OutcomeSide, bool) {
	for _, tok := range m.Tokens {
		if !tok.Winner {
			continue
		}
		if strings.EqualFold(tok.Outcome, "Yes") {
			return domain.SideYes, true
		}
		if strings.EqualFold(tok.Outcome, "No") {
			return domain.SideNo, true
		}
	}
	return "", false
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	TransactID   string `json:"transactID,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

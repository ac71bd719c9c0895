// Package polymarket implements the venue adapter for Polymarket, using the
// Gamma API for market discovery and resolution and the CLOB API for order
// execution. CLOB orders are EIP-712 signed and submitted with HMAC (L2)
// authentication headers.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/crypto"
	"github.com/oddslane/hedgebot/internal/domain"
)

const (
	// usdcPerMinorUnit converts money minor units (1e2 per dollar) to USDC
	// base units (1e6 per dollar).
	usdcPerMinorUnit = 10_000

	// payoutPerShareMinor is what one winning share pays at resolution.
	payoutPerShareMinor = 100

	// zeroAddress is the null taker, meaning the order fills publicly.
	zeroAddress = "0x0000000000000000000000000000000000000000"

	defaultPageSize = 500
	maxPages        = 20
)

// Client implements domain.VenueAdapter for Polymarket.
type Client struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	funder     string
	sigType    int
	pageSize   int
}

// New creates a Polymarket venue client. funder is the address holding USDC
// collateral; when empty the signer's own address is used.
func New(cfg config.PolymarketConfig, signer *crypto.Signer, funder string) *Client {
	if funder == "" && signer != nil {
		funder = signer.Address().Hex()
	}
	return &Client{
		gammaURL: cfg.GammaHost,
		clobURL:  cfg.ClobHost,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		funder:   funder,
		sigType:  cfg.SignatureType,
		pageSize: defaultPageSize,
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.VenueName { return domain.VenuePolymarket }

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's hmacAuth
// field, after which PlaceOrder calls are authenticated.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: no signer configured")
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// ListActiveMarkets returns every open binary market the Gamma API reports,
// paging until a short page.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	fetchedAt := time.Now()
	var markets []domain.Market

	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(c.pageSize))
		params.Set("offset", strconv.Itoa(page*c.pageSize))

		body, err := c.doGet(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
		}

		var apiMarkets []APIMarket
		if err := json.Unmarshal(body, &apiMarkets); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
		}

		for i := range apiMarkets {
			if dm, ok := apiMarkets[i].toDomainMarket(fetchedAt); ok {
				markets = append(markets, dm)
			}
		}
		if len(apiMarkets) < c.pageSize {
			break
		}
	}
	return markets, nil
}

// GetMarket returns a single market by its Gamma id.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	apiMarket, err := c.getAPIMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	dm, ok := apiMarket.toDomainMarket(time.Now())
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w: no tradable yes price", id, domain.ErrNotFound)
	}
	return dm, nil
}

// PlaceOrder executes one leg as a signed marketable fill-or-kill order at
// the market's current price. Amounts are converted between money minor
// units and the CLOB's USDC base units here and nowhere else.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: client not authenticated", domain.ErrUnauthorized)
	}

	apiMarket, err := c.getAPIMarket(ctx, req.MarketID)
	if err != nil {
		return domain.OrderResult{}, err
	}

	yesTicks, ok := apiMarket.yesTicks()
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: market %s has no live price", req.MarketID)
	}
	priceTicks := yesTicks
	if req.Side == domain.SideNo {
		priceTicks = domain.PriceScale - yesTicks
	}

	tokenID, ok := apiMarket.clobTokenID(req.Side)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: market %s has no clob tokens", req.MarketID)
	}

	price := decimal.NewFromInt(priceTicks).Div(decimal.NewFromInt(domain.PriceScale))

	var makerAmount, takerAmount int64
	var sideCode int
	switch req.Action {
	case domain.ActionBuy:
		// Maker gives USDC, taker side of the pair delivers shares.
		makerAmount = req.Amount * usdcPerMinorUnit
		takerAmount = decimal.NewFromInt(makerAmount).Div(price).IntPart()
		sideCode = 0
	case domain.ActionSell:
		// Maker gives shares, receives USDC proceeds.
		makerAmount = req.Amount
		takerAmount = decimal.NewFromInt(makerAmount).Mul(price).IntPart()
		sideCode = 1
	default:
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: unknown action %q", domain.ErrValidation, req.Action)
	}
	if takerAmount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: order too small to fill", domain.ErrValidation)
	}

	payload := crypto.OrderPayload{
		Salt:          newSalt(),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: c.sigType,
	}
	signature, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	sideName := "BUY"
	if sideCode == 1 {
		sideName = "SELL"
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          sideName,
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     signature,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !apiResult.Success {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: order rejected: %s", apiResult.ErrorMsg)
	}

	return composeResult(apiResult, req.Action, makerAmount, takerAmount, priceTicks), nil
}

// GetResolution reports whether the market resolved and which side won. A
// closed market whose winner flag has not landed yet is reported as
// unresolved so settlement retries it later.
func (c *Client) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	apiMarket, err := c.getAPIMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, err
	}
	if !apiMarket.Closed {
		return domain.Resolution{}, nil
	}
	side, ok := apiMarket.winner()
	if !ok {
		return domain.Resolution{}, nil
	}
	return domain.Resolution{
		Resolved:       true,
		WinningSide:    side,
		PayoutPerShare: payoutPerShareMinor,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// composeResult builds the order confirmation, preferring the fill amounts
// echoed by the CLOB over the requested ones.
func composeResult(api APIOrderResult, action domain.OrderAction, makerAmount, takerAmount, priceTicks int64) domain.OrderResult {
	making := parseAmount(api.MakingAmount, makerAmount)
	taking := parseAmount(api.TakingAmount, takerAmount)

	result := domain.OrderResult{
		OrderID:        api.OrderID,
		ExecutionPrice: priceTicks,
	}
	switch action {
	case domain.ActionBuy:
		result.SharesReceived = taking
		if taking > 0 {
			result.ExecutionPrice = decimal.NewFromInt(making).
				Mul(decimal.NewFromInt(domain.PriceScale)).
				Div(decimal.NewFromInt(taking)).IntPart()
		}
	case domain.ActionSell:
		result.SharesReceived = making
		if making > 0 {
			result.ExecutionPrice = decimal.NewFromInt(taking).
				Mul(decimal.NewFromInt(domain.PriceScale)).
				Div(decimal.NewFromInt(making)).IntPart()
		}
	}
	return result
}

func parseAmount(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// newSalt returns a random uint63 as a decimal string for order uniqueness.
func newSalt() string {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return n.String()
}

// getAPIMarket fetches the raw Gamma market by id.
func (c *Client) getAPIMarket(ctx context.Context, id string) (APIMarket, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gammaURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.clobURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	address := c.signer.Address().Hex()
	for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueUnavailable, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Client)(nil)

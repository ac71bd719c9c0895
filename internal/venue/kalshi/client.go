// Package kalshi implements the venue adapter for the Kalshi exchange.
// Requests are authenticated with RSA-PSS signatures over
// timestamp+method+path as required by the Kalshi REST API.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/domain"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// payoutPerShareMinor is the settlement value of one winning contract:
	// $1.00 expressed in minor units.
	payoutPerShareMinor = 100

	defaultPageSize = 200
	maxPages        = 20
)

// Client talks to the Kalshi REST API and implements domain.VenueAdapter.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	pageSize   int
}

var _ domain.VenueAdapter = (*Client)(nil)

// New creates a Kalshi client. The RSA private key is loaded separately via
// SetRSAPrivateKey so the caller controls where the PEM comes from.
func New(cfg config.KalshiConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:    base,
		apiKeyID:   cfg.ApiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pageSize:   defaultPageSize,
	}
}

// Name implements domain.VenueAdapter.
func (c *Client) Name() domain.VenueName { return domain.VenueKalshi }

// SetRSAPrivateKey parses a PEM-encoded RSA private key (PKCS#8 or PKCS#1)
// used to sign authenticated requests.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return errors.New("kalshi: no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return errors.New("kalshi: PKCS#8 key is not RSA")
		}
		c.privateKey = rsaKey
		return nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("kalshi: parse private key: %w", err)
	}
	c.privateKey = rsaKey
	return nil
}

// ListActiveMarkets implements domain.VenueAdapter. It pages through the
// markets endpoint with the cursor the API hands back.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	fetchedAt := time.Now().UTC()
	markets := make([]domain.Market, 0, c.pageSize)

	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("status", "open")
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			Markets []APIMarket `json:"markets"`
			Cursor  string      `json:"cursor"`
		}
		if err := c.doRequest(ctx, http.MethodGet, "/markets?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: list markets: %w", err)
		}

		for i := range resp.Markets {
			dm, ok := resp.Markets[i].toDomainMarket(fetchedAt)
			if !ok || !dm.Active {
				continue
			}
			markets = append(markets, dm)
		}

		cursor = resp.Cursor
		if cursor == "" || len(resp.Markets) == 0 {
			break
		}
	}
	return markets, nil
}

// GetMarket implements domain.VenueAdapter.
func (c *Client) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	am, err := c.getAPIMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	dm, ok := am.toDomainMarket(time.Now().UTC())
	if !ok {
		return domain.Market{}, fmt.Errorf("kalshi: market %s: %w: no tradable yes price", marketID, domain.ErrNotFound)
	}
	return dm, nil
}

// PlaceOrder implements domain.VenueAdapter. Kalshi trades whole contracts,
// so the spend is converted to a contract count at the current ask and the
// remainder stays unspent. Fill quantities come back from the exchange in
// contracts and cents and are converted to share micros and price ticks.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.privateKey == nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w: no signing key configured", domain.ErrUnauthorized)
	}
	if req.Amount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w: amount must be positive", domain.ErrValidation)
	}

	am, err := c.getAPIMarket(ctx, req.MarketID)
	if err != nil {
		return domain.OrderResult{}, err
	}
	priceCents := am.priceCentsFor(req.Side, req.Action)
	if priceCents <= 0 || priceCents >= 100 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: market %s has no %s quote for %s", req.MarketID, req.Side, req.Action)
	}

	// Kalshi trades whole contracts: buys convert spend to count at the
	// quoted price, sells convert share micros to count.
	var count int64
	if req.Action == domain.ActionBuy {
		count = req.Amount / priceCents
	} else {
		count = req.Amount / domain.PriceScale
	}
	if count <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w: amount %d below one contract at price %d", domain.ErrValidation, req.Amount, priceCents)
	}

	order := APIOrder{
		Ticker:        req.MarketID,
		ClientOrderID: uuid.New().String(),
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          "market",
		Count:         count,
	}
	if req.Action == domain.ActionBuy {
		maxCost := req.Amount
		order.BuyMaxCost = &maxCost
	}

	var resp APIOrderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/portfolio/orders", order, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	fillCount := resp.Order.TakerFillCount
	if fillCount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: order %s not filled (status %s)", resp.Order.OrderID, resp.Order.Status)
	}

	// taker_fill_cost is total cents paid; per-contract cents * ticksPerCent
	// gives the average execution price in ticks.
	execTicks := resp.Order.TakerFillCost * ticksPerCent / fillCount
	return domain.OrderResult{
		OrderID:        resp.Order.OrderID,
		SharesReceived: fillCount * domain.PriceScale,
		ExecutionPrice: execTicks,
	}, nil
}

// GetResolution implements domain.VenueAdapter. Only a settled market with a
// yes/no result counts as resolved; voided and still-open markets report
// unresolved so the caller retries or closes positions manually.
func (c *Client) GetResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	am, err := c.getAPIMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, err
	}

	settled := am.Status == "settled" || am.Status == "finalized"
	if !settled {
		return domain.Resolution{}, nil
	}

	var side domain.OutcomeSide
	switch am.Result {
	case "yes":
		side = domain.SideYes
	case "no":
		side = domain.SideNo
	default:
		return domain.Resolution{}, nil
	}

	return domain.Resolution{
		Resolved:       true,
		WinningSide:    side,
		PayoutPerShare: payoutPerShareMinor,
	}, nil
}

func (c *Client) getAPIMarket(ctx context.Context, marketID string) (*APIMarket, error) {
	var resp struct {
		Market APIMarket `json:"market"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(marketID), nil, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get market %s: %w", marketID, err)
	}
	return &resp.Market, nil
}

// doRequest performs a signed HTTP request against the Kalshi API and decodes
// the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.signRequest(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// signRequest adds the KALSHI-ACCESS-* headers. The signature is RSA-PSS over
// millisecond-timestamp + method + request path (query excluded).
func (c *Client) signRequest(req *http.Request) error {
	if c.privateKey == nil {
		// Public market data endpoints work unauthenticated.
		return nil
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + req.Method + req.URL.Path

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("kalshi: sign request: %w", domain.ErrSigningFailed)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkHTTPStatus maps Kalshi HTTP errors onto the shared sentinel errors.
func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := ""
	var apiErr APIErrorResponse
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		detail = apiErr.Message
	} else {
		detail = string(data)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrVenueUnavailable, resp.StatusCode, detail)
	default:
		return fmt.Errorf("kalshi: unexpected status %d: %s", resp.StatusCode, detail)
	}
}

// Package price looks up coin prices from a CoinGecko-compatible REST API.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// ErrRateLimited is returned on HTTP 429.
var ErrRateLimited = errors.New("price API rate limited")

// Market is one entry of the market-cap ranking.
type Market struct {
	ID           string          `json:"id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// Client is a price API client.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// SimplePrice returns the price of each of ids in the quote currency. Coins
// the API does not know are absent from the result.
func (c *Client) SimplePrice(ctx context.Context, ids []string, quote string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", quote)

	var result map[string]map[string]decimal.Decimal
	if err := c.get(ctx, "/simple/price", q, &result); err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(result))
	for id, byQuote := range result {
		if p, ok := byQuote[quote]; ok {
			prices[id] = p
		}
	}
	return prices, nil
}

// Markets returns one page of coins ordered by market cap.
func (c *Client) Markets(ctx context.Context, quote string, perPage, page int) ([]Market, error) {
	q := url.Values{}
	q.Set("vs_currency", quote)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")

	var markets []Market
	if err := c.get(ctx, "/coins/markets", q, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("error %d fetching %s", resp.StatusCode, path)
	}

	reader := io.LimitReader(resp.Body, 1<<22)
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

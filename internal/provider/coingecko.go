// Package provider fetches current market prices for a batch of
// cryptocurrency ids from the CoinGecko markets endpoint.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptoalerter/internal/models"
)

// ErrUnavailable wraps any transport, status, or decode failure. Callers
// treat it as fatal for the whole check run: a partial snapshot would
// silently suppress alerts for every subscriber.
var ErrUnavailable = errors.New("price provider unavailable")

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Client is a CoinGecko price client. Prices are quoted in USD.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the CoinGecko endpoint, mainly for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// NewClient creates a price client with a tuned transport.
func NewClient(opts ...Option) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// marketsRow mirrors one element of the /coins/markets response.
type marketsRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
}

// Fetch returns current USD quotes for the given ids in a single batched
// request. Ids the provider does not recognize are absent from the result;
// that is not an error. The input is deduplicated here so callers can pass
// a union built from many subscriptions without care.
func (c *Client) Fetch(ctx context.Context, ids []string) (map[string]models.PriceQuote, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return map[string]models.PriceQuote{}, nil
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", strings.Join(unique, ","))
	params.Set("per_page", "250")
	params.Set("page", "1")
	params.Set("sparkline", "false")

	reqURL := c.baseURL + "/coins/markets?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var rows []marketsRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	quotes := make(map[string]models.PriceQuote, len(rows))
	for _, row := range rows {
		quotes[row.ID] = models.PriceQuote{
			ID:           row.ID,
			Name:         row.Name,
			Symbol:       row.Symbol,
			CurrentPrice: row.CurrentPrice,
		}
	}
	return quotes, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ABOUTME: Exchange-rate client converting ether amounts into fiat currencies
// ABOUTME: Caches rates for a TTL and collapses concurrent fetches with singleflight

package fiat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Rate converts ether into one fiat currency.
type Rate struct {
	Code     string
	PerEther *big.Rat
}

// FromEth converts an ether amount into this currency.
func (r Rate) FromEth(eth *big.Rat) *big.Rat {
	return new(big.Rat).Mul(eth, r.PerEther)
}

// ToEth converts an amount of this currency into ether.
func (r Rate) ToEth(amount *big.Rat) *big.Rat {
	if r.PerEther.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).Quo(amount, r.PerEther)
}

// Rates maps upper-case currency codes to their rate.
type Rates map[string]Rate

// ratesResponse matches {"data":{"currency":"ETH","rates":{"USD":"3000.12"}}}.
type ratesResponse struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// Client fetches ETH exchange rates over HTTP.
type Client struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	cached    Rates
	fetchedAt time.Time
	now       func() time.Time
}

// NewClient creates a rates client. ttl <= 0 disables caching.
func NewClient(url string, ttl time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "fiat"),
		now:    time.Now,
	}
}

// Fetch returns current rates, from cache when fresh. Concurrent callers
// share one request, which is bounded by the HTTP client timeout rather than
// any single caller's ctx. Each caller still stops waiting when its own ctx
// is done.
func (c *Client) Fetch(ctx context.Context) (Rates, error) {
	if rates, ok := c.fresh(); ok {
		return rates, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("rates", func() (any, error) {
		if rates, ok := c.fresh(); ok {
			return rates, nil
		}
		rates, err := c.fetch(shared)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = rates
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return rates, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Rates), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for rates: %w", ctx.Err())
	}
}

func (c *Client) fresh() (Rates, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.cached, true
}

func (c *Client) fetch(ctx context.Context) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rates service returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding rates: %w", err)
	}

	rates := make(Rates, len(payload.Data.Rates))
	for code, s := range payload.Data.Rates {
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			c.logger.Warn("skipping unparseable rate", "code", code, "rate", s)
			continue
		}
		code = strings.ToUpper(code)
		rates[code] = Rate{Code: code, PerEther: r}
	}

	c.logger.Debug("fetched rates", "count", len(rates))
	return rates, nil
}

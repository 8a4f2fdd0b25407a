package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"portfoliopricing/internal/cache"
	"portfoliopricing/internal/feed/ratelimit"
	"portfoliopricing/internal/httpx"
	"portfoliopricing/internal/metrics"
	"portfoliopricing/internal/pricing"
)

// DefaultTTL for rate tables. FX drifts slowly at portfolio granularity.
const DefaultTTL = time.Hour

// fallbackRates is the last-resort USD table used when the provider is
// unreachable and nothing was ever cached. Approximate by construction; the
// Fallback flag tells callers so.
var fallbackRates = map[string]float64{
	"USD": 1,
	"EUR": 0.92,
	"GBP": 0.79,
	"JPY": 149.5,
	"CHF": 0.88,
	"CAD": 1.36,
	"AUD": 1.52,
	"NZD": 1.66,
	"SEK": 10.5,
	"NOK": 10.7,
	"DKK": 6.87,
	"CNY": 7.24,
	"HKD": 7.82,
	"ILS": 3.65,
	"INR": 83.2,
	"PLN": 3.98,
}

// Config controls the FX feed client behavior.
type Config struct {
	Name    string
	URL     string // endpoint; the base currency is appended as a path segment
	Headers map[string]string
	TTL     time.Duration
}

// Client fetches base-currency rate tables. It never propagates provider
// failures: a stale table or the hardcoded fallback always stands in.
type Client struct {
	cfg     Config
	client  *httpx.Client
	cache   *cache.Cache
	limiter *ratelimit.TokenBucket
}

func New(cfg Config, hc *httpx.Client, store *cache.Cache) *Client {
	if cfg.Name == "" {
		cfg.Name = "fx"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Client{cfg: cfg, client: hc, cache: store}
}

// SetLimiter gates outbound calls with a token bucket.
func (c *Client) SetLimiter(tb *ratelimit.TokenBucket) { c.limiter = tb }

// RateTable returns the rate table for base. It never returns an error:
// on provider failure it returns the previously cached table if one exists
// (non-fallback, since it was once live), else the hardcoded fallback table
// marked Fallback.
func (c *Client) RateTable(ctx context.Context, base string) pricing.RateTable {
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		base = "USD"
	}

	key := "fx:" + base
	v, err := c.cache.GetOrFetch(ctx, key, c.cfg.TTL, func(ctx context.Context) (any, error) {
		return c.fetchTable(ctx, base)
	})
	if err != nil {
		if prev, _, ok := c.cache.GetStale(key); ok {
			metrics.StaleServed.Inc()
			return prev.(pricing.RateTable)
		}
		return FallbackTable(base)
	}
	return v.(pricing.RateTable)
}

// FallbackTable builds the hardcoded table for base. Only the USD table has
// real entries; any other base degrades to identity.
func FallbackTable(base string) pricing.RateTable {
	rates := map[string]float64{base: 1}
	if base == "USD" {
		rates = make(map[string]float64, len(fallbackRates))
		for ccy, r := range fallbackRates {
			rates[ccy] = r
		}
	}
	return pricing.RateTable{
		Base:      base,
		Rates:     rates,
		FetchedAt: time.Now().UTC(),
		Fallback:  true,
	}
}

// Wire shape: GET {url}/{base} -> {"base":"USD","rates":{"EUR":0.92,...},"timestamp":epoch}.
type apiResponse struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
}

func (c *Client) fetchTable(ctx context.Context, base string) (pricing.RateTable, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pricing.RateTable{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: err}
		}
	}

	metrics.FeedRequests.WithLabelValues("fx").Inc()
	timer := prometheus.NewTimer(metrics.FeedLatency.WithLabelValues("fx"))
	defer timer.ObserveDuration()

	url := strings.TrimRight(c.cfg.URL, "/") + "/" + base
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return pricing.RateTable{}, err
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		metrics.FeedErrors.WithLabelValues("fx", "unavailable").Inc()
		return pricing.RateTable{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.FeedErrors.WithLabelValues("fx", "rate_limit").Inc()
		return pricing.RateTable{}, &pricing.RateLimitError{Provider: c.cfg.Name}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.FeedErrors.WithLabelValues("fx", "unavailable").Inc()
		return pricing.RateTable{}, &pricing.ProviderUnavailableError{
			Provider: c.cfg.Name,
			Err:      fmt.Errorf("GET %s -> %d", url, resp.StatusCode),
		}
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.FeedErrors.WithLabelValues("fx", "decode").Inc()
		return pricing.RateTable{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(body.Rates) == 0 {
		metrics.FeedErrors.WithLabelValues("fx", "decode").Inc()
		return pricing.RateTable{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: fmt.Errorf("empty rate table for %s", base)}
	}

	rates := make(map[string]float64, len(body.Rates))
	for ccy, r := range body.Rates {
		if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		rates[strings.ToUpper(ccy)] = r
	}
	rates[base] = 1

	fetchedAt := time.Now().UTC()
	if body.Timestamp > 0 {
		fetchedAt = time.Unix(body.Timestamp, 0).UTC()
	}
	return pricing.RateTable{Base: base, Rates: rates, FetchedAt: fetchedAt}, nil
}

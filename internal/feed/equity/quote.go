package equity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"portfoliopricing/internal/metrics"
	"portfoliopricing/internal/pricing"
)

// Quote returns the latest quote for ticker, serving from cache when fresh
// and coalescing concurrent fetches for the same ticker into one call.
// When a refresh fails but an older value is retained, that value is returned
// flagged stale instead of the error. A typed error is returned only when no
// usable value exists at all; this is the single-item validating path.
func (c *Client) Quote(ctx context.Context, ticker string) (*pricing.Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
	}

	key := "equity:" + ticker
	v, err := c.cache.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context) (any, error) {
		return c.fetchQuote(ctx, ticker)
	})
	if err != nil {
		if prev, _, ok := c.cache.GetStale(key); ok {
			q := prev.(pricing.Quote)
			q.Stale = true
			metrics.StaleServed.Inc()
			return &q, nil
		}
		return nil, err
	}
	q := v.(pricing.Quote)
	return &q, nil
}

// Quotes resolves tickers with bounded parallelism and returns only the ones
// that produced a valid quote. A failing ticker is simply absent from the
// map; the call itself never fails.
func (c *Client) Quotes(ctx context.Context, tickers []string) map[string]pricing.Quote {
	out := make(map[string]pricing.Quote, len(tickers))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.batchLimit)
	for _, t := range tickers {
		t := t
		g.Go(func() error {
			q, err := c.Quote(ctx, t)
			if err != nil || q == nil {
				return nil
			}
			mu.Lock()
			out[q.Symbol] = *q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// chartResponse is the feed's wire shape. Optional-field guessing stays here.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ShortName          string  `json:"shortName"`
				Sector             string  `json:"sector"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetchQuote(ctx context.Context, ticker string) (pricing.Quote, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pricing.Quote{}, &pricing.ProviderUnavailableError{Provider: "equity", Err: err}
		}
	}

	metrics.FeedRequests.WithLabelValues("equity").Inc()
	timer := prometheus.NewTimer(metrics.FeedLatency.WithLabelValues("equity"))
	defer timer.ObserveDuration()

	url := fmt.Sprintf("%s/%s?interval=1m&range=1d", c.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FeedErrors.WithLabelValues("equity", "unavailable").Inc()
		return pricing.Quote{}, &pricing.ProviderUnavailableError{Provider: "equity", Err: err}
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		metrics.FeedErrors.WithLabelValues("equity", "not_found").Inc()
		return pricing.Quote{}, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
	case http.StatusTooManyRequests:
		metrics.FeedErrors.WithLabelValues("equity", "rate_limit").Inc()
		return pricing.Quote{}, &pricing.RateLimitError{Provider: "equity"}
	default:
		metrics.FeedErrors.WithLabelValues("equity", "unavailable").Inc()
		return pricing.Quote{}, &pricing.ProviderUnavailableError{
			Provider: "equity",
			Err:      fmt.Errorf("unexpected status code: %d", res.StatusCode),
		}
	}

	var raw chartResponse
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		metrics.FeedErrors.WithLabelValues("equity", "decode").Inc()
		return pricing.Quote{}, &pricing.ProviderUnavailableError{Provider: "equity", Err: fmt.Errorf("decode: %w", err)}
	}
	if len(raw.Chart.Result) == 0 {
		metrics.FeedErrors.WithLabelValues("equity", "not_found").Inc()
		return pricing.Quote{}, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
	}

	r := raw.Chart.Result[0]
	price := r.Meta.RegularMarketPrice
	asOf := time.Unix(r.Meta.RegularMarketTime, 0).UTC()

	// Fall back to the last non-zero close if the meta block is missing.
	if (price <= 0 || r.Meta.RegularMarketTime == 0) && len(r.Timestamp) > 0 &&
		len(r.Indicators.Quote) > 0 && len(r.Indicators.Quote[0].Close) == len(r.Timestamp) {
		for i := len(r.Timestamp) - 1; i >= 0; i-- {
			if cl := r.Indicators.Quote[0].Close[i]; cl > 0 {
				price = cl
				asOf = time.Unix(r.Timestamp[i], 0).UTC()
				break
			}
		}
	}
	if price <= 0 {
		metrics.FeedErrors.WithLabelValues("equity", "not_found").Inc()
		return pricing.Quote{}, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
	}

	currency := strings.ToUpper(r.Meta.Currency)
	if currency == "" {
		currency = "USD"
	}
	if asOf.IsZero() || asOf.Unix() <= 0 {
		asOf = time.Now().UTC()
	}

	q := pricing.Quote{
		Symbol:      ticker,
		Price:       price,
		Currency:    currency,
		DisplayName: r.Meta.ShortName,
		Sector:      r.Meta.Sector,
		FetchedAt:   asOf,
		Source:      pricing.SourceAPI,
	}
	if !q.Valid() {
		return pricing.Quote{}, &pricing.NotFoundError{Kind: "ticker", Identifier: ticker}
	}
	return q, nil
}

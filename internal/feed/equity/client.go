package equity

import (
	"errors"
	"net/http"
	"time"

	"portfoliopricing/internal/cache"
	"portfoliopricing/internal/feed/ratelimit"
)

const defaultBaseURL = "https://query2.finance.yahoo.com/v8/finance/chart"

// DefaultTTL keeps equity quotes fresh for under a minute; the presentation
// layer tolerates minutes-old data, so anything in the 30-60s range works.
const DefaultTTL = 45 * time.Second

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=equity_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches single and batch ticker quotes from the equity quote feed.
// All knowledge of the feed's wire shape lives in this package.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	cache      *cache.Cache
	ttl        time.Duration
	limiter    *ratelimit.TokenBucket
	batchLimit int
}

// Option is a configuration option for the equity feed client.
type Option func(*Client)

// WithBaseURL sets the base URL for the feed.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for outbound requests.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithTTL overrides the quote cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLimiter gates outbound calls with a token bucket.
func WithLimiter(tb *ratelimit.TokenBucket) Option {
	return func(c *Client) {
		c.limiter = tb
	}
}

// WithBatchLimit caps concurrent per-ticker fetches in Quotes.
func WithBatchLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchLimit = n
		}
	}
}

// NewClient creates an equity feed client backed by the given cache instance.
func NewClient(store *cache.Cache, options ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("equity: nil cache")
	}
	var client = &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		cache:      store,
		ttl:        DefaultTTL,
		batchLimit: 4,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

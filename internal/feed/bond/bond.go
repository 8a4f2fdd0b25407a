package bond

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"portfoliopricing/internal/cache"
	"portfoliopricing/internal/feed/ratelimit"
	"portfoliopricing/internal/httpx"
	"portfoliopricing/internal/metrics"
	"portfoliopricing/internal/pricing"
)

// DefaultTTL is long on purpose: bond prices move far less than equities.
const DefaultTTL = 15 * time.Minute

var isinRe = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// Config controls the bond feed client behavior.
type Config struct {
	Name    string
	URL     string // endpoint; the ISIN is appended as a path segment
	APIKey  string // optional; sent as a query parameter when set
	Headers map[string]string
	TTL     time.Duration
}

// Catalog resolves loose identifiers (internal numeric ids, display names)
// to ISINs. The portfolio store provides the production implementation.
type Catalog interface {
	ByNumericID(id int64) (isin string, ok bool)
	ByName(name string) (isin string, ok bool)
}

// Client fetches percent-of-par bond prices keyed by ISIN.
type Client struct {
	cfg     Config
	client  *httpx.Client
	cache   *cache.Cache
	catalog Catalog
	limiter *ratelimit.TokenBucket
}

func New(cfg Config, hc *httpx.Client, store *cache.Cache, catalog Catalog) *Client {
	if cfg.Name == "" {
		cfg.Name = "bond"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Client{cfg: cfg, client: hc, cache: store, catalog: catalog}
}

// SetLimiter gates outbound calls with a token bucket.
func (c *Client) SetLimiter(tb *ratelimit.TokenBucket) { c.limiter = tb }

// Resolve maps identifier to an ISIN using exact ISIN match first, then the
// catalog's numeric ids, then exact name match. Bonds without a recognized
// ISIN can only be matched by name, which is a known limitation of the
// upstream data, not something this layer papers over.
func (c *Client) Resolve(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", &pricing.NotFoundError{Kind: "bond", Identifier: identifier}
	}
	if isin := strings.ToUpper(id); isinRe.MatchString(isin) {
		return isin, nil
	}
	if c.catalog != nil {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			if isin, ok := c.catalog.ByNumericID(n); ok {
				return isin, nil
			}
		}
		if isin, ok := c.catalog.ByName(id); ok {
			return isin, nil
		}
	}
	return "", &pricing.NotFoundError{Kind: "bond", Identifier: identifier}
}

// PricePct returns the bond's price as percent of par. Serving rules match
// the equity client: fresh cache wins, concurrent fetches coalesce, a failed
// refresh degrades to the retained value flagged stale.
func (c *Client) PricePct(ctx context.Context, identifier string) (*pricing.BondPrice, error) {
	isin, err := c.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	key := "bond:" + isin
	v, err := c.cache.GetOrFetch(ctx, key, c.cfg.TTL, func(ctx context.Context) (any, error) {
		return c.fetchPricePct(ctx, isin)
	})
	if err != nil {
		if prev, _, ok := c.cache.GetStale(key); ok {
			bp := prev.(pricing.BondPrice)
			bp.Identifier = identifier
			bp.Stale = true
			metrics.StaleServed.Inc()
			return &bp, nil
		}
		return nil, err
	}
	bp := v.(pricing.BondPrice)
	bp.Identifier = identifier
	return &bp, nil
}

// Wire shape: GET {url}/{isin} -> {"isin":..., "price_pct":..., "updated": epoch}.
type apiResponse struct {
	ISIN     string  `json:"isin"`
	PricePct float64 `json:"price_pct"`
	Updated  int64   `json:"updated"`
}

func (c *Client) fetchPricePct(ctx context.Context, isin string) (pricing.BondPrice, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pricing.BondPrice{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: err}
		}
	}

	metrics.FeedRequests.WithLabelValues("bond").Inc()
	timer := prometheus.NewTimer(metrics.FeedLatency.WithLabelValues("bond"))
	defer timer.ObserveDuration()

	u, err := url.Parse(strings.TrimRight(c.cfg.URL, "/") + "/" + isin)
	if err != nil {
		return pricing.BondPrice{}, err
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("apikey", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return pricing.BondPrice{}, err
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		metrics.FeedErrors.WithLabelValues("bond", "unavailable").Inc()
		return pricing.BondPrice{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		metrics.FeedErrors.WithLabelValues("bond", "not_found").Inc()
		return pricing.BondPrice{}, &pricing.NotFoundError{Kind: "bond", Identifier: isin}
	case http.StatusTooManyRequests:
		metrics.FeedErrors.WithLabelValues("bond", "rate_limit").Inc()
		return pricing.BondPrice{}, &pricing.RateLimitError{Provider: c.cfg.Name}
	default:
		metrics.FeedErrors.WithLabelValues("bond", "unavailable").Inc()
		return pricing.BondPrice{}, &pricing.ProviderUnavailableError{
			Provider: c.cfg.Name,
			Err:      fmt.Errorf("GET %s -> %d", u.String(), resp.StatusCode),
		}
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.FeedErrors.WithLabelValues("bond", "decode").Inc()
		return pricing.BondPrice{}, &pricing.ProviderUnavailableError{Provider: c.cfg.Name, Err: fmt.Errorf("decode: %w", err)}
	}
	if body.PricePct <= 0 {
		metrics.FeedErrors.WithLabelValues("bond", "not_found").Inc()
		return pricing.BondPrice{}, &pricing.NotFoundError{Kind: "bond", Identifier: isin}
	}

	fetchedAt := time.Now().UTC()
	if body.Updated > 0 {
		fetchedAt = parseEpochMaybeMillis(body.Updated, fetchedAt)
	}
	return pricing.BondPrice{
		ISIN:      isin,
		PricePct:  body.PricePct,
		FetchedAt: fetchedAt,
		Source:    pricing.SourceAPI,
	}, nil
}

func parseEpochMaybeMillis(v int64, fallback time.Time) time.Time {
	if v <= 0 {
		return fallback
	}
	if v > 1_000_000_000_000 { // ms
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// StaticCatalog is an in-memory Catalog, loaded from configuration. It also
// backs the tests.
type StaticCatalog struct {
	byID   map[int64]string
	byName map[string]string
}

// CatalogEntry describes one bond the application already knows about.
type CatalogEntry struct {
	ISIN      string `json:"isin" mapstructure:"isin"`
	NumericID int64  `json:"numeric_id" mapstructure:"numeric_id"`
	Name      string `json:"name" mapstructure:"name"`
}

func NewStaticCatalog(entries []CatalogEntry) *StaticCatalog {
	sc := &StaticCatalog{byID: make(map[int64]string), byName: make(map[string]string)}
	for _, e := range entries {
		isin := strings.ToUpper(strings.TrimSpace(e.ISIN))
		if isin == "" {
			continue
		}
		if e.NumericID != 0 {
			sc.byID[e.NumericID] = isin
		}
		if e.Name != "" {
			sc.byName[e.Name] = isin
		}
	}
	return sc
}

func (s *StaticCatalog) ByNumericID(id int64) (string, bool) {
	isin, ok := s.byID[id]
	return isin, ok
}

func (s *StaticCatalog) ByName(name string) (string, bool) {
	isin, ok := s.byName[strings.TrimSpace(name)]
	return isin, ok
}

package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portfoliopricing/internal/metrics"
)

// entry stores one cached value with expiry. The value is kept after expiry
// and serves as the stale fallback until overwritten by a newer success.
type entry struct {
	value     any
	fetchedAt time.Time
	expiresAt time.Time
}

// Cache is a TTL key/value store with in-flight request coalescing.
// It is constructed once at process start and injected into the feed clients;
// there is no package-level state.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	sf      singleflight.Group

	now func() time.Time // overridable in tests
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// GetOrFetch returns the cached value for key when fresh, joins an in-flight
// fetch for the same key when one exists, and otherwise invokes fn.
// On success the result is stored with expiry now+ttl. On failure any prior
// value is left untouched and the error goes to the caller only; callers that
// were answered from cache are never affected by a later failed refresh.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	if v, ok := c.fresh(key); ok {
		metrics.CacheHits.Inc()
		return v, nil
	}
	metrics.CacheMisses.Inc()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// A concurrent caller may have completed the fetch while this one
		// was waiting on the flight group.
		if v, ok := c.fresh(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		now := c.now()
		c.mu.Lock()
		c.entries[key] = entry{value: v, fetchedAt: now, expiresAt: now.Add(ttl)}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetStale returns the retained value for key regardless of expiry, with the
// time it was originally fetched. Clients use it to degrade to minutes-old
// data instead of erroring when a refresh fails.
func (c *Cache) GetStale(key string) (any, time.Time, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false
	}
	return e.value, e.fetchedAt, true
}

// Fresh reports whether key currently holds an unexpired value.
func (c *Cache) Fresh(key string) bool {
	_, ok := c.fresh(key)
	return ok
}

// Clear drops every entry. For deterministic test isolation only; production
// entries are never deleted, only superseded.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) fresh(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

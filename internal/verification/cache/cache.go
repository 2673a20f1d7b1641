// Package cache keeps recent provider results so a resumed verification does
// not pay for the same provider call twice.
package cache

import (
	"context"
	"sync"
	"time"

	"verigate/internal/verification/providers"
	"verigate/pkg/platform/sentinel"
)

type cachedResult struct {
	result   providers.Result
	storedAt time.Time
}

// InMemoryCache is a TTL cache for provider results.
type InMemoryCache struct {
	mu      sync.RWMutex
	results map[string]cachedResult
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryCache creates an in-memory cache with the given TTL.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		results: make(map[string]cachedResult),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the cache clock. Used by tests.
func (c *InMemoryCache) WithClock(now func() time.Time) *InMemoryCache {
	c.now = now
	return c
}

// Save stores result under key. A nil result is a no-op.
func (c *InMemoryCache) Save(_ context.Context, key string, result *providers.Result) error {
	if result == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = cachedResult{result: *result, storedAt: c.now()}
	return nil
}

// Find returns sentinel.ErrNotFound when key is missing or expired.
func (c *InMemoryCache) Find(_ context.Context, key string) (*providers.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cached, ok := c.results[key]; ok {
		if c.now().Sub(cached.storedAt) < c.ttl {
			r := cached.result
			return &r, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

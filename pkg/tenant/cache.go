package tenant

import (
	"context"
	"sync"
	"time"
)

// CachedProvider decorates a ConfigProvider with a per-tenant TTL cache.
// Consumers that sit on the request hot path (the rate limiter, the JWT
// secret lookup) wrap their provider in one of these so the configuration
// backend sees at most one read per tenant per TTL.
//
// The cache is an explicit bounded object guarded by a single lock; it is
// owned by whoever constructs it, never shared ambient state. Errors are
// not cached, so a transient backend failure retries on the next request.
type CachedProvider struct {
	inner ConfigProvider
	ttl   time.Duration

	mu        sync.Mutex
	rateLimit map[int64]cached[RateLimitPolicy]
	session   map[int64]cached[SessionPolicy]
	security  map[int64]cached[SecurityPolicy]
}

type cached[T any] struct {
	value     T
	fetchedAt time.Time
}

// Ensure CachedProvider implements ConfigProvider at compile time.
var _ ConfigProvider = (*CachedProvider)(nil)

// NewCached wraps inner with a TTL cache. A non-positive ttl defaults to
// five minutes.
func NewCached(inner ConfigProvider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{
		inner:     inner,
		ttl:       ttl,
		rateLimit: make(map[int64]cached[RateLimitPolicy]),
		session:   make(map[int64]cached[SessionPolicy]),
		security:  make(map[int64]cached[SecurityPolicy]),
	}
}

// lookup serves entries[tenantID] when fresh, otherwise calls fetch and
// stores the result. The lock is held across the fetch so concurrent
// misses for the same tenant collapse into one backend read.
func lookup[T any](c *CachedProvider, ctx context.Context, entries map[int64]cached[T], tenantID int64,
	fetch func(context.Context, int64) (T, error)) (T, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := entries[tenantID]; ok && time.Since(ent.fetchedAt) < c.ttl {
		return ent.value, nil
	}

	value, err := fetch(ctx, tenantID)
	if err != nil {
		var zero T
		return zero, err
	}

	entries[tenantID] = cached[T]{value: value, fetchedAt: time.Now()}
	return value, nil
}

// Invalidate drops all cached entries for a tenant, forcing the next read
// through to the backend. Used after policy updates.
func (c *CachedProvider) Invalidate(tenantID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rateLimit, tenantID)
	delete(c.session, tenantID)
	delete(c.security, tenantID)
}

// RateLimitPolicy implements ConfigProvider.
func (c *CachedProvider) RateLimitPolicy(ctx context.Context, tenantID int64) (RateLimitPolicy, error) {
	return lookup(c, ctx, c.rateLimit, tenantID, c.inner.RateLimitPolicy)
}

// SessionPolicy implements ConfigProvider.
func (c *CachedProvider) SessionPolicy(ctx context.Context, tenantID int64) (SessionPolicy, error) {
	return lookup(c, ctx, c.session, tenantID, c.inner.SessionPolicy)
}

// SecurityPolicy implements ConfigProvider.
func (c *CachedProvider) SecurityPolicy(ctx context.Context, tenantID int64) (SecurityPolicy, error) {
	return lookup(c, ctx, c.security, tenantID, c.inner.SecurityPolicy)
}

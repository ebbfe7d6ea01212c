// Package ratelimit provides per-tenant admission control backed by the
// shared store. Each check is one atomic store operation keyed by
// (tenant, client, route group); the strategy and limits come from the
// tenant's rate-limit policy.
//
// Rate limiting trades strict enforcement for availability: when the
// store is unreachable or the policy cannot be loaded, requests are
// admitted (with a conservative default policy in the latter case) and
// the condition is logged.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// window is the accounting window shared by the fixed- and
// sliding-window strategies.
const window = time.Minute

// Result is the outcome of an admission check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit and Remaining describe actual capacity and feed the
	// X-RateLimit-* response headers. Limit is zero when limiting was
	// bypassed (disabled policy or store outage), in which case the
	// informational headers are omitted.
	Limit     int
	Remaining int

	// RetryAfter is how long to wait before retrying a denied request.
	RetryAfter time.Duration

	// Reset is when the current window or bucket replenishes.
	Reset time.Time
}

// Limiter decides admission per (tenant, client, route group).
type Limiter struct {
	provider tenant.ConfigProvider
	store    store.Admission

	// fallback, when set, bounds traffic in-process while the store is
	// unreachable. Nil preserves the plain fail-open contract.
	fallback *LocalLimiter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLocalFallback enables in-process degraded-mode limiting during
// store outages.
func WithLocalFallback(fallback *LocalLimiter) Option {
	return func(l *Limiter) { l.fallback = fallback }
}

// New creates a Limiter. The provider is consulted on every check and is
// expected to be wrapped in a tenant.CachedProvider by the caller.
func New(provider tenant.ConfigProvider, st store.Admission, opts ...Option) *Limiter {
	l := &Limiter{provider: provider, store: st}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// defaultPolicy is the conservative fallback applied when a tenant's
// rate-limit policy cannot be loaded.
func defaultPolicy() tenant.RateLimitPolicy {
	return tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 60,
		BurstCapacity:     15,
		Enabled:           true,
	}
}

// Admit decides whether a request from client to routeGroup may proceed
// under tenantID's policy. It never returns an error: every failure mode
// resolves to a Result according to the documented fail-open policy.
func (l *Limiter) Admit(ctx context.Context, tenantID int64, client, routeGroup string) Result {
	policy, err := l.provider.RateLimitPolicy(ctx, tenantID)
	if err != nil {
		slog.Warn("rate limit policy unavailable, using default",
			"tenant", tenantID, "error", err)
		policy = defaultPolicy()
	}

	if !policy.Enabled {
		return Result{Allowed: true}
	}

	limit := policy.RequestsPerMinute
	if limit <= 0 {
		limit = 60
	}

	keyBase := fmt.Sprintf("rl:%d:%s:%s", tenantID, client, routeGroup)

	var (
		decision store.Decision
		strategy = policy.Strategy
	)
	switch strategy {
	case tenant.FixedWindow:
		decision, err = l.store.FixedWindow(ctx, keyBase+":fw", limit, window)
	case tenant.TokenBucket:
		rate := float64(limit) / window.Seconds()
		capacity := policy.BurstCapacity
		if capacity <= 0 {
			capacity = 20
		}
		decision, err = l.store.TokenBucket(ctx, keyBase+":tb", rate, capacity)
		limit = capacity
	default:
		strategy = tenant.SlidingWindow
		decision, err = l.store.SlidingWindow(ctx, keyBase+":sw", limit, window)
	}

	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("rl").Inc()
		slog.Warn("rate limit store unavailable, admitting request",
			"key", keyBase, "strategy", string(strategy), "error", err)
		return l.admitDegraded(tenantID, client, routeGroup, policy)
	}

	now := time.Now()
	res := Result{
		Allowed:   decision.Allowed,
		Limit:     limit,
		Remaining: decision.Remaining,
		Reset:     now.Add(window),
	}
	if !decision.Allowed {
		res.RetryAfter = maxDuration(decision.RetryAfter, time.Second)
		res.Reset = now.Add(res.RetryAfter)
	}
	return res
}

// admitDegraded handles a store outage. Without a fallback limiter the
// request is simply admitted; with one, traffic is bounded in-process at
// the tenant's configured rate until the store recovers.
func (l *Limiter) admitDegraded(tenantID int64, client, routeGroup string, policy tenant.RateLimitPolicy) Result {
	observability.RateLimitDegradedTotal.Inc()
	if l.fallback == nil {
		return Result{Allowed: true}
	}

	key := fmt.Sprintf("%d:%s:%s", tenantID, client, routeGroup)
	rate := float64(policy.RequestsPerMinute) / window.Seconds()
	burst := policy.BurstCapacity
	if burst <= 0 {
		burst = policy.RequestsPerMinute
	}

	if l.fallback.Allow(key, rate, burst) {
		return Result{Allowed: true}
	}

	retry := time.Duration(math.Ceil(1/rate)) * time.Second
	return Result{RetryAfter: maxDuration(retry, time.Second)}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

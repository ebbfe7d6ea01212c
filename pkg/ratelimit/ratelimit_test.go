package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/store/memory"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

func newTestLimiter(policy tenant.RateLimitPolicy, opts ...Option) *Limiter {
	p := tenant.NewStaticProvider()
	p.SetRateLimitPolicy(1, policy)
	return New(p, memory.New(), opts...)
}

func TestAdmitFixedWindow(t *testing.T) {
	l := newTestLimiter(tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 3,
		Enabled:           true,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.Admit(ctx, 1, "10.0.0.1", "api")
		if !res.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		if res.Limit != 3 {
			t.Errorf("expected limit 3, got %d", res.Limit)
		}
		if res.Remaining != 3-i-1 {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 3-i-1, res.Remaining)
		}
	}

	res := l.Admit(ctx, 1, "10.0.0.1", "api")
	if res.Allowed {
		t.Fatal("4th request should be rejected")
	}
	if res.RetryAfter < time.Second || res.RetryAfter > time.Minute {
		t.Errorf("expected retry between 1s and 60s, got %v", res.RetryAfter)
	}
}

func TestAdmitIsolatesClients(t *testing.T) {
	l := newTestLimiter(tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 1,
		Enabled:           true,
	})
	ctx := context.Background()

	if res := l.Admit(ctx, 1, "10.0.0.1", "api"); !res.Allowed {
		t.Fatal("first client should be admitted")
	}
	if res := l.Admit(ctx, 1, "10.0.0.1", "api"); res.Allowed {
		t.Fatal("first client should now be throttled")
	}
	if res := l.Admit(ctx, 1, "10.0.0.2", "api"); !res.Allowed {
		t.Error("second client must not share the first client's budget")
	}
	if res := l.Admit(ctx, 1, "10.0.0.1", "auth"); !res.Allowed {
		t.Error("a different route group must not share the budget")
	}
}

func TestAdmitTokenBucket(t *testing.T) {
	l := newTestLimiter(tenant.RateLimitPolicy{
		Strategy:          tenant.TokenBucket,
		RequestsPerMinute: 60,
		BurstCapacity:     2,
		Enabled:           true,
	})
	ctx := context.Background()

	res := l.Admit(ctx, 1, "c", "api")
	if !res.Allowed {
		t.Fatal("burst request should be admitted")
	}
	// The reported limit for a bucket is its capacity.
	if res.Limit != 2 {
		t.Errorf("expected limit 2, got %d", res.Limit)
	}

	l.Admit(ctx, 1, "c", "api")
	res = l.Admit(ctx, 1, "c", "api")
	if res.Allowed {
		t.Fatal("drained bucket should reject")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("expected at least 1s retry, got %v", res.RetryAfter)
	}
}

func TestAdmitDisabledPolicy(t *testing.T) {
	l := newTestLimiter(tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 1,
		Enabled:           false,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := l.Admit(ctx, 1, "c", "api")
		if !res.Allowed {
			t.Fatal("disabled policy must admit everything")
		}
		if res.Limit != 0 {
			t.Errorf("disabled policy should not report headers, got limit %d", res.Limit)
		}
	}
}

func TestAdmitUnknownTenantUsesConservativeDefault(t *testing.T) {
	l := New(tenant.NewStaticProvider(), memory.New())
	ctx := context.Background()

	res := l.Admit(ctx, 99, "c", "api")
	if !res.Allowed {
		t.Fatal("default policy should admit the first request")
	}
	if res.Limit != 60 {
		t.Errorf("expected default limit 60, got %d", res.Limit)
	}
}

// failingStore errors on every admission call.
type failingStore struct{}

func (failingStore) FixedWindow(context.Context, string, int, time.Duration) (store.Decision, error) {
	return store.Decision{}, errors.New("store down")
}

func (failingStore) TokenBucket(context.Context, string, float64, int) (store.Decision, error) {
	return store.Decision{}, errors.New("store down")
}

func (failingStore) SlidingWindow(context.Context, string, int, time.Duration) (store.Decision, error) {
	return store.Decision{}, errors.New("store down")
}

func TestAdmitFailsOpenOnStoreError(t *testing.T) {
	p := tenant.NewStaticProvider()
	p.SetRateLimitPolicy(1, tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 1,
		Enabled:           true,
	})
	l := New(p, failingStore{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if res := l.Admit(ctx, 1, "c", "api"); !res.Allowed {
			t.Fatal("store outage must fail open without a fallback")
		}
	}
}

func TestAdmitLocalFallbackBoundsOutageTraffic(t *testing.T) {
	p := tenant.NewStaticProvider()
	p.SetRateLimitPolicy(1, tenant.RateLimitPolicy{
		Strategy:          tenant.FixedWindow,
		RequestsPerMinute: 60,
		BurstCapacity:     2,
		Enabled:           true,
	})
	l := New(p, failingStore{}, WithLocalFallback(NewLocalLimiter()))
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 10; i++ {
		if res := l.Admit(ctx, 1, "c", "api"); res.Allowed {
			admitted++
		}
	}
	if admitted == 0 || admitted == 10 {
		t.Errorf("fallback should bound but not block outage traffic, admitted %d/10", admitted)
	}
}

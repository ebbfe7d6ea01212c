package tenant

import (
	"context"
	"sync"
)

// ConfigProvider supplies per-tenant policy. Implementations sit in front
// of whatever holds the tenant configuration (a relational database, a
// static file, a fixture); the pipeline only ever sees this interface.
type ConfigProvider interface {
	RateLimitPolicy(ctx context.Context, tenantID int64) (RateLimitPolicy, error)
	SessionPolicy(ctx context.Context, tenantID int64) (SessionPolicy, error)
	SecurityPolicy(ctx context.Context, tenantID int64) (SecurityPolicy, error)
}

// StaticProvider is an in-memory ConfigProvider, used as a test fixture
// and for single-tenant deployments configured from a file.
type StaticProvider struct {
	mu        sync.RWMutex
	rateLimit map[int64]RateLimitPolicy
	session   map[int64]SessionPolicy
	security  map[int64]SecurityPolicy
}

// Ensure StaticProvider implements ConfigProvider at compile time.
var _ ConfigProvider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		rateLimit: make(map[int64]RateLimitPolicy),
		session:   make(map[int64]SessionPolicy),
		security:  make(map[int64]SecurityPolicy),
	}
}

// SetRateLimitPolicy registers a tenant's rate-limit policy.
func (p *StaticProvider) SetRateLimitPolicy(tenantID int64, policy RateLimitPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimit[tenantID] = policy
}

// SetSessionPolicy registers a tenant's session policy.
func (p *StaticProvider) SetSessionPolicy(tenantID int64, policy SessionPolicy) {
	policy.Defaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session[tenantID] = policy
}

// SetSecurityPolicy registers a tenant's security policy.
func (p *StaticProvider) SetSecurityPolicy(tenantID int64, policy SecurityPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.security[tenantID] = policy
}

// RateLimitPolicy implements ConfigProvider.
func (p *StaticProvider) RateLimitPolicy(_ context.Context, tenantID int64) (RateLimitPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policy, ok := p.rateLimit[tenantID]
	if !ok {
		return RateLimitPolicy{}, NotConfigured(tenantID, "rate limit policy")
	}
	return policy, nil
}

// SessionPolicy implements ConfigProvider.
func (p *StaticProvider) SessionPolicy(_ context.Context, tenantID int64) (SessionPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policy, ok := p.session[tenantID]
	if !ok {
		return SessionPolicy{}, NotConfigured(tenantID, "session policy")
	}
	return policy, nil
}

// SecurityPolicy implements ConfigProvider.
func (p *StaticProvider) SecurityPolicy(_ context.Context, tenantID int64) (SecurityPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policy, ok := p.security[tenantID]
	if !ok {
		return SecurityPolicy{}, NotConfigured(tenantID, "security policy")
	}
	return policy, nil
}

// Package postgres provides a PostgreSQL-backed tenant.ConfigProvider.
// It uses pgx/v5 for connection pooling and reads the per-tenant policy
// tables maintained by the tenant administration surface. The admission
// pipeline never sees this package directly; it is wired in behind the
// ConfigProvider interface, usually inside a tenant.CachedProvider.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// Config holds PostgreSQL connection and behavior settings.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32

	// MinConns is the minimum number of idle connections maintained (default: 5).
	MinConns int32

	// MaxConnLifetime is the maximum lifetime of a connection before it is
	// closed and replaced (default: 5 minutes).
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the policy tables automatically at startup.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MinConns == 0 {
		c.MinConns = 5
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
}

// Provider is a PostgreSQL-backed tenant.ConfigProvider.
type Provider struct {
	pool *pgxpool.Pool
}

// Ensure Provider implements tenant.ConfigProvider at compile time.
var _ tenant.ConfigProvider = (*Provider)(nil)

// New creates a provider and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	p := &Provider{pool: pool}

	if cfg.MigrateOnStart {
		if err := p.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return p, nil
}

// Close releases the connection pool.
func (p *Provider) Close() {
	p.pool.Close()
}

// RateLimitPolicy implements tenant.ConfigProvider.
func (p *Provider) RateLimitPolicy(ctx context.Context, tenantID int64) (tenant.RateLimitPolicy, error) {
	var (
		strategy string
		policy   tenant.RateLimitPolicy
	)
	err := p.pool.QueryRow(ctx, `
		SELECT strategy, requests_per_minute, burst_capacity, enabled
		FROM rate_limit_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&strategy, &policy.RequestsPerMinute, &policy.BurstCapacity, &policy.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		observeLookup("rate_limit", "missing")
		return tenant.RateLimitPolicy{}, tenant.NotConfigured(tenantID, "rate limit policy")
	}
	if err != nil {
		observeLookup("rate_limit", "error")
		return tenant.RateLimitPolicy{}, fmt.Errorf("reading rate limit settings for tenant %d: %w", tenantID, err)
	}
	observeLookup("rate_limit", "ok")
	policy.Strategy = tenant.Strategy(strategy)
	return policy, nil
}

// SessionPolicy implements tenant.ConfigProvider.
func (p *Provider) SessionPolicy(ctx context.Context, tenantID int64) (tenant.SessionPolicy, error) {
	var (
		timeoutMinutes int
		sameSite       string
		policy         tenant.SessionPolicy
	)
	err := p.pool.QueryRow(ctx, `
		SELECT cookie_name, session_timeout_minutes, secure_cookies,
		       http_only_cookies, same_site_policy, cookie_path, cookie_domain
		FROM session_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&policy.CookieName, &timeoutMinutes, &policy.CookieSecure,
		&policy.CookieHTTPOnly, &sameSite, &policy.CookiePath, &policy.CookieDomain)
	if errors.Is(err, pgx.ErrNoRows) {
		observeLookup("session", "missing")
		return tenant.SessionPolicy{}, tenant.NotConfigured(tenantID, "session policy")
	}
	if err != nil {
		observeLookup("session", "error")
		return tenant.SessionPolicy{}, fmt.Errorf("reading session settings for tenant %d: %w", tenantID, err)
	}
	observeLookup("session", "ok")

	policy.Timeout = time.Duration(timeoutMinutes) * time.Minute
	policy.CookieSameSite = parseSameSite(sameSite)
	policy.Defaults()
	return policy, nil
}

// SecurityPolicy implements tenant.ConfigProvider.
func (p *Provider) SecurityPolicy(ctx context.Context, tenantID int64) (tenant.SecurityPolicy, error) {
	var (
		accessMinutes int
		refreshDays   int
		policy        tenant.SecurityPolicy
	)
	err := p.pool.QueryRow(ctx, `
		SELECT jwt_secret_key, jwt_algorithm,
		       access_token_expiry_minutes, refresh_token_expiry_days
		FROM security_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&policy.JWTSecret, &policy.JWTAlgorithm, &accessMinutes, &refreshDays)
	if errors.Is(err, pgx.ErrNoRows) {
		observeLookup("security", "missing")
		return tenant.SecurityPolicy{}, tenant.NotConfigured(tenantID, "security policy")
	}
	if err != nil {
		observeLookup("security", "error")
		return tenant.SecurityPolicy{}, fmt.Errorf("reading security settings for tenant %d: %w", tenantID, err)
	}
	observeLookup("security", "ok")

	policy.AccessTokenTTL = time.Duration(accessMinutes) * time.Minute
	policy.RefreshTokenTTL = time.Duration(refreshDays) * 24 * time.Hour
	return policy, nil
}

func observeLookup(kind, outcome string) {
	observability.PolicyLookupsTotal.WithLabelValues(kind, outcome).Inc()
}

func parseSameSite(s string) http.SameSite {
	switch s {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when a tenant has no policy of the
// requested kind. Callers must treat it as fatal for security policy and
// may substitute a conservative default for rate-limit policy.
var ErrNotConfigured = errors.New("tenant policy not configured")

// NotConfigured wraps ErrNotConfigured with the tenant and policy kind.
func NotConfigured(tenantID int64, kind string) error {
	return fmt.Errorf("tenant %d: %s: %w", tenantID, kind, ErrNotConfigured)
}

// Strategy selects the rate-limiting algorithm for a tenant.
type Strategy string

const (
	FixedWindow   Strategy = "fixed_window"
	TokenBucket   Strategy = "token_bucket"
	SlidingWindow Strategy = "sliding_window"
)

// RateLimitPolicy configures admission control for one tenant.
type RateLimitPolicy struct {
	Strategy          Strategy
	RequestsPerMinute int
	BurstCapacity     int
	Enabled           bool
}

// SessionPolicy configures opaque-session behavior for one tenant.
type SessionPolicy struct {
	// CookieName is the session cookie name (default "sid").
	CookieName string

	// Timeout is the sliding-expiration window: each successful read
	// extends the session by this much.
	Timeout time.Duration

	// Cookie attributes applied when a fresh session is issued.
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	CookiePath     string
	CookieDomain   string
}

// SecurityPolicy configures token verification for one tenant.
type SecurityPolicy struct {
	// JWTSecret is the HMAC signing secret. A missing or known-weak
	// secret is a configuration defect, not a recoverable condition.
	JWTSecret string

	// JWTAlgorithm names the HMAC variant, e.g. "HS256".
	JWTAlgorithm string

	// AccessTokenTTL and RefreshTokenTTL bound issued token lifetimes.
	// AccessTokenTTL also caps revocation-record TTLs when a presented
	// token's remaining lifetime cannot be determined.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Defaults fills zero-value session policy fields.
func (p *SessionPolicy) Defaults() {
	if p.CookieName == "" {
		p.CookieName = "sid"
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Minute
	}
	if p.CookieSameSite == 0 {
		p.CookieSameSite = http.SameSiteStrictMode
	}
	if p.CookiePath == "" {
		p.CookiePath = "/"
	}
}

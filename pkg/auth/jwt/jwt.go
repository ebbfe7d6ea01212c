// Package jwt provides the bearer-token strategy of the auth chain. It
// validates HMAC-signed JWTs against each tenant's configured secret,
// enforcing expiry, the access token type, and jti revocation.
//
// Tenant secrets are cached in-process for a short TTL behind a single
// lock owned by the strategy instance. A tenant with no secret, or with a
// known-weak one, is a configuration defect: validation fails closed with
// a server error rather than quietly falling back to a default secret.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// weakSecrets lists values that ship in examples and default configs.
// Finding one configured is treated the same as having no secret at all.
var weakSecrets = map[string]struct{}{
	"secret":          {},
	"secret_key":      {},
	"jwt_secret":      {},
	"changeme":        {},
	"change-me":       {},
	"password":        {},
	"default":         {},
	"your-secret-key": {},
}

// minSecretLength is the shortest HMAC secret accepted. Anything shorter
// is brute-forceable and rejected as misconfiguration.
const minSecretLength = 16

// Config holds the JWT strategy configuration.
type Config struct {
	// SecretTTL controls how long tenant security policies are cached.
	// Default: 5 minutes.
	SecretTTL time.Duration
}

// Strategy validates bearer JWTs per tenant.
type Strategy struct {
	secrets *secretCache
	revoker *Revoker
}

// Ensure Strategy implements auth.Strategy at compile time.
var _ auth.Strategy = (*Strategy)(nil)

// New creates a JWT strategy. The provider supplies per-tenant security
// policy; the revoker may be nil to disable revocation checks.
func New(provider tenant.ConfigProvider, revoker *Revoker, cfg Config) *Strategy {
	if cfg.SecretTTL == 0 {
		cfg.SecretTTL = 5 * time.Minute
	}
	return &Strategy{
		secrets: &secretCache{
			provider: provider,
			ttl:      cfg.SecretTTL,
			entries:  make(map[int64]secretEntry),
		},
		revoker: revoker,
	}
}

// Name implements auth.Strategy.
func (s *Strategy) Name() string { return string(auth.TypeJWT) }

// Resolve implements auth.Strategy.
//
// Outcomes:
//   - Abstain: no Authorization header or not a Bearer scheme
//   - Denied + ErrConfiguration: tenant secret missing or weak
//   - Denied: token present but invalid (signature, expiry, type, revoked)
//   - Granted: identity populated from the verified claims
func (s *Strategy) Resolve(ctx context.Context, r *http.Request) auth.Result {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	tenantID := tenant.FromContext(ctx)

	policy, err := s.secrets.get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, auth.ErrConfiguration) {
			slog.Error("tenant JWT secret unusable", "tenant", tenantID, "error", err)
			return auth.Result{Decision: auth.Denied, Err: err}
		}
		// Transient policy-backend failure: deny this credential and
		// let the session strategy try.
		slog.Warn("security policy unavailable", "tenant", tenantID, "error", err)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		return []byte(policy.JWTSecret), nil
	}, jwtlib.WithValidMethods([]string{policy.JWTAlgorithm}))
	if err != nil {
		slog.Debug("JWT validation failed", "tenant", tenantID, "error", err)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	// Only access tokens admit requests; refresh tokens are for the
	// token endpoint.
	if typ, _ := claims["type"].(string); typ != "access" {
		slog.Debug("JWT has wrong type claim", "tenant", tenantID)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	jti, _ := claims["jti"].(string)
	if jti != "" && s.revoker != nil && s.revoker.IsRevoked(ctx, jti) {
		slog.Debug("JWT revoked", "tenant", tenantID, "jti", jti)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	userID, err := subjectID(claims)
	if err != nil {
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	email, _ := claims["email"].(string)
	identity := &auth.Identity{
		ID:          userID,
		Email:       email,
		Roles:       claimStrings(claims, "roles"),
		Permissions: claimStrings(claims, "permissions"),
		AuthType:    auth.TypeJWT,
		TokenJTI:    jti,
	}

	return auth.Result{Decision: auth.Granted, Identity: identity}
}

// subjectID reads the user id from the sub claim.
func subjectID(claims jwtlib.MapClaims) (int64, error) {
	switch v := claims["sub"].(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("missing sub claim")
	}
}

// claimStrings extracts a JSON string array claim.
func claimStrings(claims jwtlib.MapClaims, key string) []string {
	arr, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// secretCache caches tenant security policies with TTL invalidation. A
// single mutex guards reads and the fill on miss, so concurrent misses
// for one tenant collapse into one backend read.
type secretCache struct {
	provider tenant.ConfigProvider
	ttl      time.Duration

	mu      sync.Mutex
	entries map[int64]secretEntry
}

type secretEntry struct {
	policy    tenant.SecurityPolicy
	fetchedAt time.Time
}

// get returns the tenant's security policy, vetting the secret. Weak and
// missing secrets are configuration errors and are never cached, so a
// fixed tenant recovers on the next TTL boundary at the latest.
func (c *secretCache) get(ctx context.Context, tenantID int64) (tenant.SecurityPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[tenantID]; ok && time.Since(ent.fetchedAt) < c.ttl {
		return ent.policy, nil
	}

	policy, err := c.provider.SecurityPolicy(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotConfigured) {
		return tenant.SecurityPolicy{}, fmt.Errorf("tenant %d has no security policy: %w", tenantID, auth.ErrConfiguration)
	}
	if err != nil {
		return tenant.SecurityPolicy{}, err
	}

	if err := vetSecret(policy.JWTSecret); err != nil {
		return tenant.SecurityPolicy{}, fmt.Errorf("tenant %d: %v: %w", tenantID, err, auth.ErrConfiguration)
	}
	if policy.JWTAlgorithm == "" {
		policy.JWTAlgorithm = "HS256"
	}

	c.entries[tenantID] = secretEntry{policy: policy, fetchedAt: time.Now()}
	return policy, nil
}

// vetSecret rejects missing, short, and known-default secrets.
func vetSecret(secret string) error {
	if secret == "" {
		return errors.New("empty JWT secret")
	}
	if len(secret) < minSecretLength {
		return errors.New("JWT secret too short")
	}
	if _, weak := weakSecrets[secret]; weak {
		return errors.New("JWT secret is a known default")
	}
	return nil
}

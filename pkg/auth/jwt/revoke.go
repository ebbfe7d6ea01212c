package jwt

import (
	"context"
	"log/slog"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/store"
)

// revokedKeyPrefix namespaces revocation flags in the store.
const revokedKeyPrefix = "revoked_token:"

// Revoker records and checks token revocations. Records are append-only
// and self-expiring: each carries the TTL of the token it revokes, so
// the set never needs explicit cleanup.
//
// Revocation checks fail open on store errors: an un-revocable token
// must still pass every other JWT check, and availability wins for this
// one sub-check, mirroring the rate limiter's posture.
type Revoker struct {
	kv store.KV

	// ceiling bounds revocation TTLs when a token's remaining lifetime
	// is unknown or implausibly long.
	ceiling time.Duration
}

// NewRevoker creates a Revoker. A non-positive ceiling defaults to one
// hour, a sane upper bound for access-token lifetimes.
func NewRevoker(kv store.KV, ceiling time.Duration) *Revoker {
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	return &Revoker{kv: kv, ceiling: ceiling}
}

// Revoke extracts the jti from tokenStr without verifying the signature
// or expiry, since even a stale token's jti should be flagged, and
// writes a revocation record lasting the token's remaining lifetime.
// Tokens without a jti cannot be revoked; that is reported as a no-op.
func (r *Revoker) Revoke(ctx context.Context, tokenStr string) error {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		slog.Debug("cannot decode token for revocation", "error", err)
		return nil
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil
	}

	ttl := r.ceiling
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if remaining := time.Until(exp.Time); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}

	if err := r.kv.SetEx(ctx, revokedKeyPrefix+jti, "1", ttl); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("revoked_token").Inc()
		return err
	}

	slog.Info("token revoked", "jti", jti, "ttl", ttl)
	return nil
}

// IsRevoked reports whether jti has a live revocation record. Store
// failures are logged and treated as not revoked.
func (r *Revoker) IsRevoked(ctx context.Context, jti string) bool {
	revoked, err := r.kv.Exists(ctx, revokedKeyPrefix+jti)
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("revoked_token").Inc()
		slog.Warn("revocation check unavailable, assuming not revoked",
			"jti", jti, "error", err)
		return false
	}
	return revoked
}

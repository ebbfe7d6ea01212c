// Package apikey provides a static API key strategy for
// machine-to-machine callers. Keys arrive in the X-API-Key header,
// are hashed with SHA-256, and are compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// HeaderName carries the API key. Keys never travel in the
// Authorization header so they cannot be mistaken for JWTs.
const HeaderName = "X-API-Key"

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	TenantID int64
	Identity auth.Identity
}

type keyEntry struct {
	keyHash  [32]byte
	tenantID int64
	identity auth.Identity
}

// Strategy validates API keys against a static key store. Entries are
// tenant-scoped: a key minted for one tenant abstains on another.
type Strategy struct {
	keys []keyEntry
}

var _ auth.Strategy = (*Strategy)(nil)

// New creates an API key strategy from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not retained.
func New(entries []RawKeyEntry) *Strategy {
	s := &Strategy{}
	for _, e := range entries {
		id := e.Identity
		id.AuthType = auth.TypeAPIKey
		s.keys = append(s.keys, keyEntry{
			keyHash:  sha256.Sum256([]byte(e.Key)),
			tenantID: e.TenantID,
			identity: id,
		})
	}
	return s
}

// Name implements auth.Strategy.
func (s *Strategy) Name() string { return string(auth.TypeAPIKey) }

// Resolve implements auth.Strategy. Returns Granted for a known key,
// Denied when a key is present but unknown for the tenant, and Abstain
// when the header is absent.
func (s *Strategy) Resolve(ctx context.Context, r *http.Request) auth.Result {
	key := r.Header.Get(HeaderName)
	if key == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	tenantID := tenant.FromContext(ctx)
	keyHash := sha256.Sum256([]byte(key))

	for _, entry := range s.keys {
		if entry.tenantID != tenantID {
			continue
		}
		if subtle.ConstantTimeCompare(keyHash[:], entry.keyHash[:]) == 1 {
			// Copy identity so callers cannot mutate shared state.
			id := entry.identity
			return auth.Result{Decision: auth.Granted, Identity: &id}
		}
	}

	return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
}

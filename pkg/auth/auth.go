package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/pkg/observability"
)

// Decision represents the three possible outcomes of one strategy.
type Decision int

const (
	// Granted means credentials are valid. The chain stops and the
	// identity is used.
	Granted Decision = iota

	// Denied means credentials of this type are present but invalid.
	// The chain continues to the next strategy unless the denial is a
	// configuration error.
	Denied

	// Abstain means this strategy cannot handle the request's
	// credentials. The chain continues.
	Abstain
)

// Type records which credential established an identity.
type Type string

const (
	TypeJWT     Type = "jwt"
	TypeSession Type = "session"
	TypeAPIKey  Type = "api_key"
)

// Identity is the resolved caller. It lives for one request and is never
// persisted.
type Identity struct {
	ID          int64
	Email       string
	Roles       []string
	Permissions []string
	AuthType    Type

	// TokenJTI is set for JWT identities so logout can revoke the token.
	TokenJTI string
}

// Result carries the outcome of a strategy or of the whole chain.
type Result struct {
	Decision Decision
	Identity *Identity // populated only when Decision == Granted
	Err      error     // populated only when Decision == Denied
}

// Strategy examines one credential type and votes.
type Strategy interface {
	// Name labels the strategy in logs and metrics ("jwt", "session").
	Name() string

	Resolve(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	// ErrUnauthenticated is the uniform rejection: it deliberately
	// carries no detail about which check failed.
	ErrUnauthenticated = errors.New("invalid or missing credentials")

	// ErrConfiguration marks a tenant security misconfiguration (no JWT
	// secret, or a known-weak one). It maps to a 500-class response and
	// is never recoverable within a request.
	ErrConfiguration = errors.New("authentication configuration error")
)

// Chain resolves identities by trying strategies in priority order.
type Chain struct {
	Strategies []Strategy
}

// Resolve runs the chain. The first Granted wins. A Denied vote stops the
// chain only for configuration errors; otherwise later strategies still
// get to examine their own credential type. When nothing grants, the
// result is a uniform denial.
func (c *Chain) Resolve(ctx context.Context, r *http.Request) Result {
	for _, s := range c.Strategies {
		result := s.Resolve(ctx, r)
		switch result.Decision {
		case Granted:
			return result
		case Denied:
			observability.AuthFailuresTotal.WithLabelValues(s.Name()).Inc()
			if errors.Is(result.Err, ErrConfiguration) {
				return result
			}
		}
	}

	return Result{Decision: Denied, Err: ErrUnauthenticated}
}

// ClientIP extracts the caller's IP, preferring the first entry of
// X-Forwarded-For when a proxy added one, falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken extracts the token from an Authorization: Bearer header.
// The second return is false when the header is absent or uses another
// scheme.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// Package pipeline composes the admission checks every request passes
// through before reaching a business handler: tenant resolution, rate
// limiting, and authentication. The stages are plain http.Handler
// middleware so the composition can be tested with httptest and reused
// by any mux.
package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/ratelimit"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// staticPrefixes are asset paths that never require authentication.
var staticPrefixes = []string{"/static/", "/media/", "/assets/"}

// Pipeline assembles the admission middleware for a server.
type Pipeline struct {
	mapper  tenant.HostMapper
	limiter *ratelimit.Limiter
	chain   *auth.Chain

	publicPaths []string
	routeGroup  func(*http.Request) string
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublicPaths sets the paths that skip authentication. A request is
// public when its path equals an entry or begins with entry + "/".
func WithPublicPaths(paths ...string) Option {
	return func(p *Pipeline) { p.publicPaths = paths }
}

// WithRouteGroup overrides how a request maps to a rate-limit route
// group. The default uses the first path segment.
func WithRouteGroup(fn func(*http.Request) string) Option {
	return func(p *Pipeline) { p.routeGroup = fn }
}

// WithLogger sets the logger used by the logging middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a pipeline. The mapper may be nil when host-based tenant
// resolution is not used; the chain may be empty for a limiter-only
// deployment.
func New(mapper tenant.HostMapper, limiter *ratelimit.Limiter, chain *auth.Chain, opts ...Option) *Pipeline {
	p := &Pipeline{
		mapper:     mapper,
		limiter:    limiter,
		chain:      chain,
		routeGroup: defaultRouteGroup,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wrap applies the full admission stack to next, outermost first:
// request ID, panic recovery, tenant resolution, logging, metrics, rate
// limiting, authentication.
func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	return Chain(
		RequestID(),
		Recovery(),
		p.ResolveTenant(),
		Logging(p.logger),
		observability.MetricsMiddleware,
		p.RateLimit(),
		p.Authenticate(),
	)(next)
}

// ResolveTenant returns middleware that resolves the request's tenant
// and stores it in the context for every later stage.
func (p *Pipeline) ResolveTenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := tenant.Resolve(r, p.mapper)
			ctx := tenant.SetTenant(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit returns middleware that admits or throttles the request
// against the tenant's policy. Denials get 429 with Retry-After and the
// X-RateLimit family of headers; admissions carry the same headers
// reflecting the capacity actually left.
func (p *Pipeline) RateLimit() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := tenant.FromContext(r.Context())
			client := auth.ClientIP(r)
			group := p.routeGroup(r)

			res := p.limiter.Admit(r.Context(), tenantID, client, group)

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			}

			if !res.Allowed {
				retry := int(res.RetryAfter / time.Second)
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				observability.RateLimitRejectedTotal.
					WithLabelValues(strconv.FormatInt(tenantID, 10), group).Inc()
				writeDetail(w, http.StatusTooManyRequests,
					"rate limit exceeded, retry in "+strconv.Itoa(retry)+" seconds")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate returns middleware that resolves the caller's identity
// through the auth chain. Public paths pass through untouched. A denial
// is a uniform 401; a tenant misconfiguration is a 500.
func (p *Pipeline) Authenticate() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result := p.chain.Resolve(r.Context(), r)
			if result.Decision != auth.Granted {
				if errors.Is(result.Err, auth.ErrConfiguration) {
					writeDetail(w, http.StatusInternalServerError,
						"authentication configuration error")
					return
				}
				writeDetail(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}

			ctx := auth.SetIdentity(r.Context(), result.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isPublic reports whether path skips authentication: an exact allowlist
// match, an allowlist prefix + "/" match, or a static-asset prefix.
func (p *Pipeline) isPublic(path string) bool {
	for _, pub := range p.publicPaths {
		if path == pub || strings.HasPrefix(path, pub+"/") {
			return true
		}
	}
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// defaultRouteGroup maps a request to its rate-limit route group using
// the first path segment, so /api/orders and /api/products share a
// bucket while /auth/login gets its own.
func defaultRouteGroup(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "default"
	}
	return path
}

// writeDetail writes the uniform JSON error body shared by every
// pipeline rejection.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

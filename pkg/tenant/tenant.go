// Package tenant provides tenant resolution and per-tenant policy access
// for the admission pipeline. A tenant is resolved once per request from
// the X-Tenant-Id header or the Host subdomain and is immutable for the
// request's lifetime.
package tenant

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// DefaultTenant is used when neither the header nor the host resolves.
const DefaultTenant int64 = 1

// tenantKey is a private type for the tenant context key, preventing
// collisions with other packages.
type tenantKey struct{}

// SetTenant injects a tenant identifier into the context.
func SetTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// FromContext extracts the tenant identifier from the context.
// Returns DefaultTenant if none is set.
func FromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(tenantKey{}).(int64); ok {
		return v
	}
	return DefaultTenant
}

// HostMapper resolves a request Host (or its subdomain) to a tenant.
// Implementations typically consult the tenant registry; a nil mapper
// disables host-based resolution.
type HostMapper interface {
	TenantForHost(ctx context.Context, host string) (int64, bool)
}

// Resolve determines the tenant for a request. The X-Tenant-Id header
// wins when it carries a positive integer; otherwise the host (stripped
// of any port) is offered to the mapper. Falls back to DefaultTenant.
func Resolve(r *http.Request, mapper HostMapper) int64 {
	if header := r.Header.Get("X-Tenant-Id"); header != "" {
		if id, err := strconv.ParseInt(header, 10, 64); err == nil && id > 0 {
			return id
		}
	}

	if mapper != nil {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		if host != "" {
			if id, ok := mapper.TenantForHost(r.Context(), host); ok {
				return id
			}
		}
	}

	return DefaultTenant
}

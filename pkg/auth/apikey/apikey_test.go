package apikey

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

func newTestStrategy() *Strategy {
	return New([]RawKeyEntry{
		{
			Key:      "gw_live_abc123",
			TenantID: 1,
			Identity: auth.Identity{ID: 100, Email: "ci@example.com", Roles: []string{"service"}},
		},
		{
			Key:      "gw_live_tenant2",
			TenantID: 2,
			Identity: auth.Identity{ID: 200},
		},
	})
}

func resolve(s *Strategy, tenantID int64, key string) auth.Result {
	r := httptest.NewRequest("GET", "/api/export", nil)
	if key != "" {
		r.Header.Set(HeaderName, key)
	}
	return s.Resolve(tenant.SetTenant(r.Context(), tenantID), r)
}

func TestResolveAbstainsWithoutHeader(t *testing.T) {
	if result := resolve(newTestStrategy(), 1, ""); result.Decision != auth.Abstain {
		t.Errorf("expected Abstain, got %v", result.Decision)
	}
}

func TestResolveKnownKey(t *testing.T) {
	result := resolve(newTestStrategy(), 1, "gw_live_abc123")

	if result.Decision != auth.Granted {
		t.Fatalf("expected Granted, got %v (err=%v)", result.Decision, result.Err)
	}
	id := result.Identity
	if id.ID != 100 || id.Email != "ci@example.com" {
		t.Errorf("unexpected identity %+v", id)
	}
	if id.AuthType != auth.TypeAPIKey {
		t.Errorf("expected AuthType api_key, got %q", id.AuthType)
	}
}

func TestResolveUnknownKeyIsDenied(t *testing.T) {
	result := resolve(newTestStrategy(), 1, "gw_live_wrong")

	if result.Decision != auth.Denied {
		t.Fatalf("expected Denied, got %v", result.Decision)
	}
	if !errors.Is(result.Err, auth.ErrUnauthenticated) {
		t.Errorf("expected uniform denial, got %v", result.Err)
	}
}

func TestResolveKeysAreTenantScoped(t *testing.T) {
	s := newTestStrategy()

	if result := resolve(s, 2, "gw_live_abc123"); result.Decision != auth.Denied {
		t.Errorf("tenant 1's key must not admit on tenant 2, got %v", result.Decision)
	}
	if result := resolve(s, 2, "gw_live_tenant2"); result.Decision != auth.Granted {
		t.Errorf("tenant 2's own key should grant, got %v", result.Decision)
	}
}

func TestResolveIdentityIsCopied(t *testing.T) {
	s := newTestStrategy()

	first := resolve(s, 1, "gw_live_abc123")
	first.Identity.Email = "mutated@example.com"

	second := resolve(s, 1, "gw_live_abc123")
	if second.Identity.Email != "ci@example.com" {
		t.Error("mutating a resolved identity must not affect later resolutions")
	}
}

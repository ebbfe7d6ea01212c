package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubStrategy returns a fixed result and records whether it ran.
type stubStrategy struct {
	name   string
	result Result
	called bool
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Resolve(context.Context, *http.Request) Result {
	s.called = true
	return s.result
}

func TestChainFirstGrantWins(t *testing.T) {
	granted := &stubStrategy{name: "first", result: Result{
		Decision: Granted,
		Identity: &Identity{ID: 1, AuthType: TypeJWT},
	}}
	never := &stubStrategy{name: "second", result: Result{Decision: Granted}}

	c := &Chain{Strategies: []Strategy{granted, never}}
	result := c.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))

	if result.Decision != Granted {
		t.Fatalf("expected Granted, got %v", result.Decision)
	}
	if result.Identity == nil || result.Identity.ID != 1 {
		t.Errorf("expected first strategy's identity, got %+v", result.Identity)
	}
	if never.called {
		t.Error("chain must stop at the first grant")
	}
}

func TestChainDenialContinues(t *testing.T) {
	denied := &stubStrategy{name: "jwt", result: Result{
		Decision: Denied,
		Err:      ErrUnauthenticated,
	}}
	granted := &stubStrategy{name: "session", result: Result{
		Decision: Granted,
		Identity: &Identity{ID: 2, AuthType: TypeSession},
	}}

	c := &Chain{Strategies: []Strategy{denied, granted}}
	result := c.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))

	if result.Decision != Granted {
		t.Fatalf("a later strategy should be able to grant after a denial, got %v", result.Decision)
	}
	if result.Identity.AuthType != TypeSession {
		t.Errorf("expected session identity, got %v", result.Identity.AuthType)
	}
}

func TestChainConfigurationErrorStops(t *testing.T) {
	misconfigured := &stubStrategy{name: "jwt", result: Result{
		Decision: Denied,
		Err:      ErrConfiguration,
	}}
	never := &stubStrategy{name: "session", result: Result{Decision: Granted}}

	c := &Chain{Strategies: []Strategy{misconfigured, never}}
	result := c.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))

	if result.Decision != Denied {
		t.Fatalf("expected Denied, got %v", result.Decision)
	}
	if !errors.Is(result.Err, ErrConfiguration) {
		t.Errorf("expected configuration error to surface, got %v", result.Err)
	}
	if never.called {
		t.Error("a configuration error must stop the chain")
	}
}

func TestChainAllAbstainIsUniformDenial(t *testing.T) {
	c := &Chain{Strategies: []Strategy{
		&stubStrategy{name: "a", result: Result{Decision: Abstain}},
		&stubStrategy{name: "b", result: Result{Decision: Abstain}},
	}}
	result := c.Resolve(context.Background(), httptest.NewRequest("GET", "/", nil))

	if result.Decision != Denied {
		t.Fatalf("expected Denied, got %v", result.Decision)
	}
	if !errors.Is(result.Err, ErrUnauthenticated) {
		t.Errorf("expected uniform denial, got %v", result.Err)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.1.2.3:54321", want: "10.1.2.3"},
		{name: "forwarded single", remoteAddr: "127.0.0.1:80", forwarded: "203.0.113.9", want: "203.0.113.9"},
		{name: "forwarded chain uses first", remoteAddr: "127.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.1", want: "203.0.113.9"},
		{name: "forwarded with spaces", remoteAddr: "127.0.0.1:80", forwarded: "  203.0.113.9 ", want: "203.0.113.9"},
		{name: "empty forwarded falls back", remoteAddr: "10.1.2.3:54321", forwarded: "", want: "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Error("missing header should not yield a token")
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(r); ok {
		t.Error("non-bearer scheme should not yield a token")
	}

	r.Header.Set("Authorization", "Bearer tok123")
	tok, ok := BearerToken(r)
	if !ok || tok != "tok123" {
		t.Errorf("expected token tok123, got %q (ok=%v)", tok, ok)
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := IdentityFromContext(ctx); got != nil {
		t.Errorf("expected nil identity, got %+v", got)
	}

	id := &Identity{ID: 7, Email: "a@b.c", AuthType: TypeJWT}
	ctx = SetIdentity(ctx, id)
	if got := IdentityFromContext(ctx); got != id {
		t.Errorf("expected identity to round-trip, got %+v", got)
	}
}

// Package integration provides integration tests for the gatewarden
// admission pipeline.
//
// Tests run against a real gatewarden HTTP server assembled in-process
// with net/http/httptest: the full middleware stack, the auth chain,
// and the session and token machinery, backed by the in-memory store.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/auth/apikey"
	"github.com/gatewarden/gatewarden/pkg/auth/cookie"
	"github.com/gatewarden/gatewarden/pkg/auth/jwt"
	"github.com/gatewarden/gatewarden/pkg/pipeline"
	"github.com/gatewarden/gatewarden/pkg/ratelimit"
	"github.com/gatewarden/gatewarden/pkg/session"
	"github.com/gatewarden/gatewarden/pkg/store/memory"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testEmail    = "alice@example.com"
	testPassword = "correct horse"
	testAPIKey   = "gw_live_integration"
)

// Tenant layout: tenant 1 carries the auth surface with a generous
// limit, tenant 2 exists to exhaust a tight fixed window.
const (
	authTenant    = 1
	limitedTenant = 2
)

// testEnv holds the shared server for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the gatewarden server and its collaborators.
type TestEnvironment struct {
	Server   *httptest.Server
	Sessions *session.Store
	Issuer   *jwt.Issuer
	Revoker  *jwt.Revoker
	Provider *tenant.StaticProvider
}

// TestMain assembles the server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// directory is a fixed user directory for session hydration.
type directory struct{}

func (directory) User(_ context.Context, tenantID, userID int64) (cookie.User, error) {
	if tenantID == authTenant && userID == 7 {
		return cookie.User{
			Email:       testEmail,
			Roles:       []string{"editor"},
			Permissions: []string{"orders:read"},
		}, nil
	}
	return cookie.User{}, fmt.Errorf("no user %d for tenant %d", userID, tenantID)
}

// setupTestEnvironment wires the production component graph against the
// in-memory store.
func setupTestEnvironment() *TestEnvironment {
	kv := memory.New()

	provider := tenant.NewStaticProvider()
	provider.SetRateLimitPolicy(authTenant, tenant.RateLimitPolicy{
		Strategy:          "fixed_window",
		RequestsPerMinute: 10000,
		Enabled:           true,
	})
	provider.SetSessionPolicy(authTenant, tenant.SessionPolicy{CookieHTTPOnly: true})
	provider.SetSecurityPolicy(authTenant, tenant.SecurityPolicy{
		JWTSecret:    testSecret,
		JWTAlgorithm: "HS256",
	})
	provider.SetRateLimitPolicy(limitedTenant, tenant.RateLimitPolicy{
		Strategy:          "fixed_window",
		RequestsPerMinute: 3,
		Enabled:           true,
	})
	provider.SetSessionPolicy(limitedTenant, tenant.SessionPolicy{})
	provider.SetSecurityPolicy(limitedTenant, tenant.SecurityPolicy{
		JWTSecret:    testSecret,
		JWTAlgorithm: "HS256",
	})

	limiter := ratelimit.New(provider, kv)
	sessions := session.NewStore(kv, provider)
	revoker := jwt.NewRevoker(kv, time.Hour)
	issuer := jwt.NewIssuer(provider)

	chain := &auth.Chain{Strategies: []auth.Strategy{
		jwt.New(provider, revoker, jwt.Config{}),
		cookie.New(sessions, provider, directory{}),
		apikey.New([]apikey.RawKeyEntry{{
			Key:      testAPIKey,
			TenantID: authTenant,
			Identity: auth.Identity{ID: 100, Email: "ci@example.com", Roles: []string{"service"}},
		}}),
	}}

	pipe := pipeline.New(nil, limiter, chain,
		pipeline.WithPublicPaths("/healthz", "/auth/login"))

	app := &testApp{
		sessions: sessions,
		issuer:   issuer,
		revoker:  revoker,
		provider: provider,
	}

	mux := http.NewServeMux()
	app.routes(mux)

	root := http.NewServeMux()
	root.Handle("/", pipe.Wrap(mux))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	root.Handle("GET /metrics", promhttp.Handler())

	return &TestEnvironment{
		Server:   httptest.NewServer(root),
		Sessions: sessions,
		Issuer:   issuer,
		Revoker:  revoker,
		Provider: provider,
	}
}

// Teardown stops the server.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
}

// BaseURL returns the gatewarden server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// testApp mirrors the production auth surface closely enough for
// end-to-end flows.
type testApp struct {
	sessions *session.Store
	issuer   *jwt.Issuer
	revoker  *jwt.Revoker
	provider tenant.ConfigProvider
}

func (app *testApp) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", app.handleLogin)
	mux.HandleFunc("POST /auth/logout", app.handleLogout)
	mux.HandleFunc("GET /me", app.handleWhoAmI)
}

func (app *testApp) handleLogin(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Email != testEmail || req.Password != testPassword {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": auth.ErrUnauthenticated.Error()})
		return
	}

	sess, err := app.sessions.Create(r.Context(), tenantID, 7, auth.ClientIP(r), r.UserAgent())
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	policy, err := app.provider.SessionPolicy(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	session.WriteCookie(w, policy, sess.ID)

	pair, err := app.issuer.Issue(r.Context(), tenantID, auth.Identity{
		ID: 7, Email: testEmail, Roles: []string{"editor"},
	})
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pair)
}

func (app *testApp) handleLogout(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	if token, ok := auth.BearerToken(r); ok {
		app.revoker.Revoke(r.Context(), token)
	}
	if policy, err := app.provider.SessionPolicy(r.Context(), tenantID); err == nil {
		if c, cerr := r.Cookie(policy.CookieName); cerr == nil {
			app.sessions.Destroy(r.Context(), tenantID, c.Value)
		}
		session.ClearCookie(w, policy)
	}
	w.WriteHeader(http.StatusOK)
}

func (app *testApp) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":        identity.ID,
		"email":     identity.Email,
		"auth_type": identity.AuthType,
	})
}

// --- HTTP helpers ---

// postJSON sends a POST request with a JSON body.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// get sends a GET request with optional header pairs.
func get(t *testing.T, url string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// decodeJSON decodes the response body into a map and closes it.
func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

// readBody reads and closes the response body.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

// login performs a credential exchange and returns the session cookie
// and token pair.
func login(t *testing.T) (*http.Cookie, jwt.TokenPair) {
	t.Helper()
	resp := postJSON(t, testEnv.BaseURL()+"/auth/login", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", resp.StatusCode)
	}

	var pair jwt.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("decoding token pair: %v", err)
	}

	var sid *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			sid = c
		}
	}
	if sid == nil {
		t.Fatal("login did not set a session cookie")
	}
	return sid, pair
}

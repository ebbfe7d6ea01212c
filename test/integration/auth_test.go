package integration

import (
	"net/http"
	"testing"
)

func TestLoginSetsSessionAndTokens(t *testing.T) {
	sid, pair := login(t)

	if sid.Value == "" {
		t.Error("session cookie is empty")
	}
	if !sid.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("expected both tokens")
	}
	if pair.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", pair.TokenType)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/auth/login", map[string]string{
		"email":    testEmail,
		"password": "wrong",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSessionCookieAuthenticates(t *testing.T) {
	sid, _ := login(t)

	req, _ := http.NewRequest("GET", testEnv.BaseURL()+"/me", nil)
	req.AddCookie(sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp)
	if body["email"] != testEmail || body["auth_type"] != "session" {
		t.Errorf("unexpected identity %v", body)
	}
}

func TestAccessTokenAuthenticates(t *testing.T) {
	_, pair := login(t)

	resp := get(t, testEnv.BaseURL()+"/me", "Authorization", "Bearer "+pair.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp)
	if body["email"] != testEmail || body["auth_type"] != "jwt" {
		t.Errorf("unexpected identity %v", body)
	}
}

func TestRefreshTokenDoesNotAuthenticate(t *testing.T) {
	_, pair := login(t)

	resp := get(t, testEnv.BaseURL()+"/me", "Authorization", "Bearer "+pair.RefreshToken)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("a refresh token must not admit a request, got %d", resp.StatusCode)
	}
}

func TestAPIKeyAuthenticates(t *testing.T) {
	resp := get(t, testEnv.BaseURL()+"/me", "X-API-Key", testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeJSON(t, resp)
	if body["auth_type"] != "api_key" {
		t.Errorf("unexpected identity %v", body)
	}
}

func TestLogoutEndsBothCredentials(t *testing.T) {
	sid, pair := login(t)

	req, _ := http.NewRequest("POST", testEnv.BaseURL()+"/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.AddCookie(sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /auth/logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}

	// The session is gone.
	cookieReq, _ := http.NewRequest("GET", testEnv.BaseURL()+"/me", nil)
	cookieReq.AddCookie(sid)
	cookieResp, err := http.DefaultClient.Do(cookieReq)
	if err != nil {
		t.Fatal(err)
	}
	cookieResp.Body.Close()
	if cookieResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("session should be destroyed, got %d", cookieResp.StatusCode)
	}

	// The access token is revoked.
	tokenResp := get(t, testEnv.BaseURL()+"/me", "Authorization", "Bearer "+pair.AccessToken)
	tokenResp.Body.Close()
	if tokenResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("access token should be revoked, got %d", tokenResp.StatusCode)
	}
}

func TestGarbageBearerToken(t *testing.T) {
	resp := get(t, testEnv.BaseURL()+"/me", "Authorization", "Bearer not.a.jwt")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

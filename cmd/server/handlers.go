package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/auth/jwt"
	"github.com/gatewarden/gatewarden/pkg/session"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// application bundles the handler dependencies for the auth surface.
type application struct {
	sessions *session.Store
	issuer   *jwt.Issuer
	revoker  *jwt.Revoker
	provider tenant.ConfigProvider
	users    UserService
}

// routes registers the auth and demo endpoints. Everything registered
// here runs behind the admission pipeline; /auth/login is reachable
// because it is on the public-path allowlist.
func (app *application) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", app.handleLogin)
	mux.HandleFunc("POST /auth/logout", app.handleLogout)
	mux.HandleFunc("GET /auth/sessions", app.handleListSessions)
	mux.HandleFunc("DELETE /auth/sessions", app.handleDestroySessions)
	mux.HandleFunc("GET /me", app.handleWhoAmI)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin verifies credentials, opens a session (cookie), and mints
// a token pair so callers can pick either credential style.
func (app *application) handleLogin(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	userID, profile, err := app.users.Authenticate(r.Context(), tenantID, req.Email, req.Password)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}

	sess, err := app.sessions.Create(r.Context(), tenantID, userID, auth.ClientIP(r), r.UserAgent())
	if err != nil {
		slog.Error("session creation failed", "tenant", tenantID, "user", userID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	policy, err := app.provider.SessionPolicy(r.Context(), tenantID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}
	session.WriteCookie(w, policy, sess.ID)

	pair, err := app.issuer.Issue(r.Context(), tenantID, auth.Identity{
		ID:          userID,
		Email:       profile.Email,
		Roles:       profile.Roles,
		Permissions: profile.Permissions,
	})
	if err != nil {
		if errors.Is(err, auth.ErrConfiguration) {
			writeDetail(w, http.StatusInternalServerError, "authentication configuration error")
			return
		}
		slog.Error("token issue failed", "tenant", tenantID, "user", userID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the presented access token and destroys the
// caller's session. Both cleanups are attempted regardless of which
// credential authenticated the request.
func (app *application) handleLogout(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())

	if token, ok := auth.BearerToken(r); ok {
		if err := app.revoker.Revoke(r.Context(), token); err != nil {
			slog.Warn("token revocation failed", "tenant", tenantID, "error", err)
		}
	}

	policy, err := app.provider.SessionPolicy(r.Context(), tenantID)
	if err == nil {
		if c, cerr := r.Cookie(policy.CookieName); cerr == nil && c.Value != "" {
			if _, derr := app.sessions.Destroy(r.Context(), tenantID, c.Value); derr != nil {
				slog.Warn("session destroy failed", "tenant", tenantID, "error", derr)
			}
		}
		session.ClearCookie(w, policy)
	}

	writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

type sessionInfo struct {
	ID             string `json:"id"`
	IP             string `json:"ip"`
	UserAgent      string `json:"user_agent"`
	CreatedAt      string `json:"created_at"`
	LastAccessedAt string `json:"last_accessed_at"`
	ExpiresAt      string `json:"expires_at"`
	Current        bool   `json:"current"`
}

// handleListSessions returns the caller's live sessions.
func (app *application) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeDetail(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}

	sessions, err := app.sessions.ListForUser(r.Context(), tenantID, identity.ID)
	if err != nil {
		slog.Error("session list failed", "tenant", tenantID, "user", identity.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	current := app.currentSessionID(r, tenantID)
	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo{
			ID:             s.ID,
			IP:             s.IP,
			UserAgent:      s.UserAgent,
			CreatedAt:      s.CreatedAt.Format(time.RFC3339),
			LastAccessedAt: s.LastAccessedAt.Format(time.RFC3339),
			ExpiresAt:      s.ExpiresAt.Format(time.RFC3339),
			Current:        s.ID == current,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// handleDestroySessions ends every session of the caller except the one
// backing this request, if any.
func (app *application) handleDestroySessions(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.FromContext(r.Context())
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeDetail(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}

	current := app.currentSessionID(r, tenantID)
	n, err := app.sessions.DestroyAllForUser(r.Context(), tenantID, identity.ID, current)
	if err != nil {
		slog.Error("session purge failed", "tenant", tenantID, "user", identity.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"destroyed": n})
}

// handleWhoAmI echoes the resolved identity, mainly for smoke tests.
func (app *application) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		writeDetail(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          identity.ID,
		"email":       identity.Email,
		"roles":       identity.Roles,
		"permissions": identity.Permissions,
		"auth_type":   identity.AuthType,
	})
}

// currentSessionID extracts the request's session cookie value, or ""
// when the request was not session-authenticated.
func (app *application) currentSessionID(r *http.Request, tenantID int64) string {
	policy, err := app.provider.SessionPolicy(r.Context(), tenantID)
	if err != nil {
		return ""
	}
	c, err := r.Cookie(policy.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

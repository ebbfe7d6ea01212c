// Package cookie provides the session-cookie strategy of the auth chain.
// It resolves the tenant's opaque session cookie through the session
// store and hydrates role and permission data from a user directory.
//
// Session-based identity fails closed: a store or directory error while a
// cookie is being validated denies the request rather than admitting it
// as anonymous.
package cookie

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gatewarden/gatewarden/pkg/auth"
	"github.com/gatewarden/gatewarden/pkg/session"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// User is the directory record hydrated for a session's owner.
type User struct {
	Email       string
	Roles       []string
	Permissions []string
}

// Directory looks up role and permission data for a user. It is an
// external collaborator, typically backed by the platform's user
// service or database.
type Directory interface {
	User(ctx context.Context, tenantID, userID int64) (User, error)
}

// Strategy resolves session cookies.
type Strategy struct {
	sessions *session.Store
	provider tenant.ConfigProvider
	users    Directory
}

// Ensure Strategy implements auth.Strategy at compile time.
var _ auth.Strategy = (*Strategy)(nil)

// New creates a session-cookie strategy. The provider supplies each
// tenant's cookie name and should be wrapped in a tenant.CachedProvider.
func New(sessions *session.Store, provider tenant.ConfigProvider, users Directory) *Strategy {
	return &Strategy{sessions: sessions, provider: provider, users: users}
}

// Name implements auth.Strategy.
func (s *Strategy) Name() string { return string(auth.TypeSession) }

// Resolve implements auth.Strategy.
//
// Outcomes:
//   - Abstain: no session cookie for this tenant
//   - Denied: cookie present but the session is missing, expired,
//     IP-bound elsewhere, or hydration failed
//   - Granted: identity populated from the session and directory
func (s *Strategy) Resolve(ctx context.Context, r *http.Request) auth.Result {
	tenantID := tenant.FromContext(ctx)

	policy, err := s.provider.SessionPolicy(ctx, tenantID)
	if err != nil {
		// Without the policy we don't even know the cookie name;
		// fail closed rather than guessing.
		slog.Warn("session policy unavailable", "tenant", tenantID, "error", err)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	c, err := r.Cookie(policy.CookieName)
	if err != nil || c.Value == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	sess, err := s.sessions.Get(ctx, tenantID, c.Value, auth.ClientIP(r))
	if errors.Is(err, session.ErrNotFound) {
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}
	if err != nil {
		slog.Error("session resolution failed", "tenant", tenantID, "error", err)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	user, err := s.users.User(ctx, tenantID, sess.UserID)
	if err != nil {
		slog.Error("user hydration failed",
			"tenant", tenantID, "user", sess.UserID, "error", err)
		return auth.Result{Decision: auth.Denied, Err: auth.ErrUnauthenticated}
	}

	identity := &auth.Identity{
		ID:          sess.UserID,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: user.Permissions,
		AuthType:    auth.TypeSession,
	}

	return auth.Result{Decision: auth.Granted, Identity: identity}
}

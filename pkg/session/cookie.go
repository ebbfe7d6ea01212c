package session

import (
	"net/http"
	"time"

	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// WriteCookie issues the session cookie for a freshly created session,
// with attributes taken from the tenant's session policy.
func WriteCookie(w http.ResponseWriter, policy tenant.SessionPolicy, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     policy.CookieName,
		Value:    sessionID,
		Path:     policy.CookiePath,
		Domain:   policy.CookieDomain,
		MaxAge:   int(policy.Timeout / time.Second),
		HttpOnly: policy.CookieHTTPOnly,
		Secure:   policy.CookieSecure,
		SameSite: policy.CookieSameSite,
	})
}

// ClearCookie expires the session cookie on logout.
func ClearCookie(w http.ResponseWriter, policy tenant.SessionPolicy) {
	http.SetCookie(w, &http.Cookie{
		Name:     policy.CookieName,
		Value:    "",
		Path:     policy.CookiePath,
		Domain:   policy.CookieDomain,
		MaxAge:   -1,
		HttpOnly: policy.CookieHTTPOnly,
		Secure:   policy.CookieSecure,
		SameSite: policy.CookieSameSite,
	})
}

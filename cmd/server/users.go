package main

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"github.com/gatewarden/gatewarden/pkg/auth/cookie"
	"github.com/gatewarden/gatewarden/pkg/config"
)

var errBadCredentials = errors.New("unknown user or wrong password")

// UserService verifies credentials and hydrates identities. Deployments
// with a real user backend implement this against their directory; the
// static implementation below serves config-defined users.
type UserService interface {
	cookie.Directory

	// Authenticate checks a credential pair and returns the user's ID
	// and profile on success.
	Authenticate(ctx context.Context, tenantID int64, email, password string) (int64, cookie.User, error)
}

type staticUser struct {
	id           int64
	passwordHash [32]byte
	profile      cookie.User
}

// staticUsers is a config-backed UserService keyed by (tenant, email)
// for login and (tenant, id) for hydration.
type staticUsers struct {
	byEmail map[int64]map[string]staticUser
	byID    map[int64]map[int64]staticUser
}

var _ UserService = (*staticUsers)(nil)

func newStaticUsers(entries []config.UserConfig) *staticUsers {
	s := &staticUsers{
		byEmail: make(map[int64]map[string]staticUser),
		byID:    make(map[int64]map[int64]staticUser),
	}
	for _, e := range entries {
		u := staticUser{
			id:           e.ID,
			passwordHash: sha256.Sum256([]byte(e.Password)),
			profile: cookie.User{
				Email:       e.Email,
				Roles:       e.Roles,
				Permissions: e.Permissions,
			},
		}
		if s.byEmail[e.TenantID] == nil {
			s.byEmail[e.TenantID] = make(map[string]staticUser)
			s.byID[e.TenantID] = make(map[int64]staticUser)
		}
		s.byEmail[e.TenantID][e.Email] = u
		s.byID[e.TenantID][e.ID] = u
	}
	return s
}

// Authenticate implements UserService. Passwords are compared as SHA-256
// digests in constant time.
func (s *staticUsers) Authenticate(_ context.Context, tenantID int64, email, password string) (int64, cookie.User, error) {
	u, ok := s.byEmail[tenantID][email]
	if !ok {
		// Burn a comparison anyway so presence of the account is not
		// observable through timing.
		var zero [32]byte
		hash := sha256.Sum256([]byte(password))
		subtle.ConstantTimeCompare(hash[:], zero[:])
		return 0, cookie.User{}, errBadCredentials
	}

	hash := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(hash[:], u.passwordHash[:]) != 1 {
		return 0, cookie.User{}, errBadCredentials
	}
	return u.id, u.profile, nil
}

// User implements cookie.Directory.
func (s *staticUsers) User(_ context.Context, tenantID, userID int64) (cookie.User, error) {
	u, ok := s.byID[tenantID][userID]
	if !ok {
		return cookie.User{}, errBadCredentials
	}
	return u.profile, nil
}

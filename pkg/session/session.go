// Package session manages opaque server-side sessions in the shared
// store. Session identifiers are 256-bit random values; records live
// under session:{tenant}:{id} with a TTL matching the tenant's sliding
// timeout, and a user_sessions:{tenant}:{user} set indexes each user's
// sessions so they can be listed and revoked without scanning the key
// space.
//
// Unlike rate limiting, session resolution fails closed: a store error
// during a read surfaces to the caller and the request is rejected, never
// admitted with a guessed identity.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatewarden/gatewarden/pkg/observability"
	"github.com/gatewarden/gatewarden/pkg/store"
	"github.com/gatewarden/gatewarden/pkg/tenant"
)

// ErrNotFound is returned when a session does not exist, has expired, or
// was invalidated. Callers get no further detail; the distinction only
// appears in logs.
var ErrNotFound = errors.New("session not found")

// idLength is the encoded length of a 32-byte URL-safe session id.
const idLength = 43

// Session is one authenticated browser session, bound to a single
// (tenant, user) pair and the IP it was created from.
type Session struct {
	ID             string    `json:"id"`
	TenantID       int64     `json:"tenant_id"`
	UserID         int64     `json:"user_id"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Store creates, refreshes, and destroys sessions.
type Store struct {
	kv       store.Store
	provider tenant.ConfigProvider
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store. The provider supplies each tenant's
// session policy and should be wrapped in a tenant.CachedProvider.
func NewStore(kv store.Store, provider tenant.ConfigProvider, opts ...Option) *Store {
	s := &Store{kv: kv, provider: provider, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(tenantID int64, id string) string {
	return fmt.Sprintf("session:%d:%s", tenantID, id)
}

func userKey(tenantID, userID int64) string {
	return fmt.Sprintf("user_sessions:%d:%d", tenantID, userID)
}

// newID returns a 256-bit random identifier in URL-safe base64.
func newID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ValidID reports whether s has the exact shape of a generated session
// id. Anything else is rejected before touching the store.
func ValidID(s string) bool {
	if len(s) != idLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// Create generates a new session for (tenantID, userID), persists it with
// the tenant's sliding timeout, and indexes it under the user's session
// set.
func (s *Store) Create(ctx context.Context, tenantID, userID int64, ip, userAgent string) (*Session, error) {
	policy, err := s.provider.SessionPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading session policy: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:             id,
		TenantID:       tenantID,
		UserID:         userID,
		IP:             ip,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(policy.Timeout),
	}

	if err := s.persist(ctx, sess, policy.Timeout); err != nil {
		return nil, err
	}

	if err := s.kv.SAdd(ctx, userKey(tenantID, userID), id); err != nil {
		return nil, fmt.Errorf("indexing session: %w", err)
	}
	// The index outlives individual sessions so stale members can be
	// pruned lazily on list.
	if err := s.kv.Expire(ctx, userKey(tenantID, userID), 24*policy.Timeout); err != nil {
		return nil, fmt.Errorf("refreshing session index: %w", err)
	}

	observability.SessionsActive.Inc()
	slog.Info("session created", "tenant", tenantID, "user", userID, "sid", id[:8])
	return sess, nil
}

// Get resolves sessionID for a caller currently at currentIP, applying
// sliding expiration on success. A session whose bound IP differs from
// currentIP is treated as compromised: it is destroyed and ErrNotFound is
// returned. Legitimate IP churn (mobile handoff) therefore forces
// re-authentication; that trade-off is deliberate.
func (s *Store) Get(ctx context.Context, tenantID int64, sessionID, currentIP string) (*Session, error) {
	if !ValidID(sessionID) {
		return nil, ErrNotFound
	}

	policy, err := s.provider.SessionPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading session policy: %w", err)
	}

	sess, err := s.load(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.IP != currentIP {
		slog.Warn("session IP mismatch, invalidating",
			"tenant", tenantID, "user", sess.UserID, "sid", sessionID[:8])
		if _, derr := s.Destroy(ctx, tenantID, sessionID); derr != nil {
			return nil, derr
		}
		return nil, ErrNotFound
	}

	// Sliding expiration: each valid read pushes the deadline out by a
	// full timeout, so ExpiresAt never decreases while the session lives.
	now := s.now()
	sess.LastAccessedAt = now
	sess.ExpiresAt = now.Add(policy.Timeout)
	if err := s.persist(ctx, sess, policy.Timeout); err != nil {
		return nil, err
	}

	return sess, nil
}

// load fetches and expiry-checks a record without IP binding or refresh.
func (s *Store) load(ctx context.Context, tenantID int64, sessionID string) (*Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(tenantID, sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("session").Inc()
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}

	// The store TTL normally handles expiry; this guards against clock
	// skew between writers.
	if s.now().After(sess.ExpiresAt) {
		_, _ = s.Destroy(ctx, tenantID, sessionID)
		return nil, ErrNotFound
	}

	return &sess, nil
}

func (s *Store) persist(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	if err := s.kv.SetEx(ctx, sessionKey(sess.TenantID, sess.ID), string(raw), ttl); err != nil {
		observability.StoreErrorsTotal.WithLabelValues("session").Inc()
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// Destroy deletes a session and removes it from its user's index.
// It is idempotent: destroying an absent session reports false, nil.
func (s *Store) Destroy(ctx context.Context, tenantID int64, sessionID string) (bool, error) {
	if !ValidID(sessionID) {
		return false, nil
	}

	// Read the record first to learn the owning user for index removal.
	raw, err := s.kv.Get(ctx, sessionKey(tenantID, sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("session").Inc()
		return false, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err == nil {
		if err := s.kv.SRem(ctx, userKey(tenantID, sess.UserID), sessionID); err != nil {
			return false, fmt.Errorf("unindexing session: %w", err)
		}
	}

	n, err := s.kv.Delete(ctx, sessionKey(tenantID, sessionID))
	if err != nil {
		observability.StoreErrorsTotal.WithLabelValues("session").Inc()
		return false, fmt.Errorf("deleting session: %w", err)
	}

	if n > 0 {
		observability.SessionsActive.Dec()
		slog.Info("session destroyed", "tenant", tenantID, "sid", sessionID[:8])
	}
	return n > 0, nil
}

// ListForUser returns a user's live sessions via the index set, pruning
// members whose records have expired.
func (s *Store) ListForUser(ctx context.Context, tenantID, userID int64) ([]*Session, error) {
	ids, err := s.kv.SMembers(ctx, userKey(tenantID, userID))
	if err != nil {
		return nil, fmt.Errorf("reading session index: %w", err)
	}

	var sessions []*Session
	for _, id := range ids {
		sess, err := s.load(ctx, tenantID, id)
		if errors.Is(err, ErrNotFound) {
			_ = s.kv.SRem(ctx, userKey(tenantID, userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// DestroyAllForUser deletes every session of (tenantID, userID), keeping
// except when non-empty (typically the caller's current session).
// Returns the number of sessions destroyed.
func (s *Store) DestroyAllForUser(ctx context.Context, tenantID, userID int64, except string) (int, error) {
	ids, err := s.kv.SMembers(ctx, userKey(tenantID, userID))
	if err != nil {
		return 0, fmt.Errorf("reading session index: %w", err)
	}

	destroyed := 0
	for _, id := range ids {
		if id == except {
			continue
		}
		ok, err := s.Destroy(ctx, tenantID, id)
		if err != nil {
			return destroyed, err
		}
		if ok {
			destroyed++
		}
	}

	slog.Info("user sessions destroyed",
		"tenant", tenantID, "user", userID, "count", destroyed)
	return destroyed, nil
}

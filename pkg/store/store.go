// Package store defines the shared key-value backend contract used by the
// rate limiter, the session store, and token revocation. All durable mutable
// state lives behind this interface; the admission operations execute as a
// single atomic unit on the server side so that concurrent processes never
// race on read-modify-write sequences.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Decision is the result of an atomic admission operation.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Remaining is the capacity left after this request was counted.
	// Zero when the request was denied.
	Remaining int

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the request was admitted.
	RetryAfter time.Duration
}

// KV provides string value operations with TTL-based expiry.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetEx stores value at key with the given TTL, replacing any
	// previous value and TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Sets provides unordered set operations, used for the per-user
// session index.
type Sets interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Expire refreshes the TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Admission provides the atomic counting operations behind the rate
// limiter. Each call is a single server-evaluated operation: the counter
// read, update, and expiry management never happen as separate round trips.
type Admission interface {
	// FixedWindow increments the counter at key, binding its expiry to
	// the window length on first increment. Denies once the count
	// exceeds limit, reporting the key's remaining TTL as RetryAfter.
	FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)

	// TokenBucket refills the bucket at key by elapsed*rate tokens
	// (capped at capacity) and consumes one token. When empty it denies
	// with RetryAfter = ceil((1 - tokens) / rate) seconds.
	TokenBucket(ctx context.Context, key string, ratePerSec float64, capacity int) (Decision, error)

	// SlidingWindow trims request timestamps older than window from the
	// set at key and admits while fewer than limit remain. Denials
	// report a minimum RetryAfter of one second.
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Store is the full backend contract shared by all admission-pipeline
// components.
type Store interface {
	KV
	Sets
	Admission
}

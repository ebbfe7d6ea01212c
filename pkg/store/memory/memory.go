// Package memory provides an in-memory implementation of store.Store for
// testing and single-process deployments. All operations execute under one
// mutex, which gives the same atomicity the Redis backend gets from
// server-side scripts. State is lost when the process restarts.
package memory

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/pkg/store"
)

// Store is an in-memory store.Store. Expired entries are dropped lazily
// on access; there is no background janitor.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]valueEntry
	sets    map[string]*setEntry
	buckets map[string]*bucketEntry
	samples map[string][]sample
}

type valueEntry struct {
	value     string
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

type bucketEntry struct {
	tokens    int
	last      int64 // unix seconds of the last refill
	expiresAt time.Time
}

// sample is one recorded request in a sliding window.
type sample struct {
	at time.Time
}

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source, letting tests drive window and
// bucket arithmetic deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		values:  make(map[string]valueEntry),
		sets:    make(map[string]*setEntry),
		buckets: make(map[string]*bucketEntry),
		samples: make(map[string][]sample),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// expired reports whether a deadline has passed. A zero deadline never
// expires.
func (s *Store) expired(at time.Time) bool {
	return !at.IsZero() && s.now().After(at)
}

// Get implements store.KV.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.values[key]
	if !ok || s.expired(ent.expiresAt) {
		delete(s.values, key)
		return "", store.ErrNotFound
	}
	return ent.value, nil
}

// SetEx implements store.KV.
func (s *Store) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := valueEntry{value: value}
	if ttl > 0 {
		ent.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = ent
	return nil
}

// Delete implements store.KV. It removes keys from every namespace.
func (s *Store) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if ent, ok := s.values[key]; ok {
			if !s.expired(ent.expiresAt) {
				n++
			}
			delete(s.values, key)
			continue
		}
		if ent, ok := s.sets[key]; ok {
			if !s.expired(ent.expiresAt) {
				n++
			}
			delete(s.sets, key)
			continue
		}
		if _, ok := s.buckets[key]; ok {
			n++
			delete(s.buckets, key)
			continue
		}
		if _, ok := s.samples[key]; ok {
			n++
			delete(s.samples, key)
		}
	}
	return n, nil
}

// Exists implements store.KV.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.values[key]
	if !ok || s.expired(ent.expiresAt) {
		delete(s.values, key)
		return false, nil
	}
	return true, nil
}

// liveSet returns the set at key, dropping it first if expired.
func (s *Store) liveSet(key string) *setEntry {
	ent, ok := s.sets[key]
	if ok && s.expired(ent.expiresAt) {
		delete(s.sets, key)
		return nil
	}
	if !ok {
		return nil
	}
	return ent
}

// SAdd implements store.Sets.
func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.liveSet(key)
	if ent == nil {
		ent = &setEntry{members: make(map[string]struct{})}
		s.sets[key] = ent
	}
	for _, m := range members {
		ent.members[m] = struct{}{}
	}
	return nil
}

// SRem implements store.Sets.
func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.liveSet(key)
	if ent == nil {
		return nil
	}
	for _, m := range members {
		delete(ent.members, m)
	}
	if len(ent.members) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// SMembers implements store.Sets.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.liveSet(key)
	if ent == nil {
		return nil, nil
	}
	members := make([]string, 0, len(ent.members))
	for m := range ent.members {
		members = append(members, m)
	}
	return members, nil
}

// Expire implements store.Sets.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(ttl)
	if ent, ok := s.values[key]; ok {
		ent.expiresAt = deadline
		s.values[key] = ent
	}
	if ent := s.liveSet(key); ent != nil {
		ent.expiresAt = deadline
	}
	return nil
}

// FixedWindow implements store.Admission. The counter is stored as a
// value entry so its TTL doubles as the window boundary.
func (s *Store) FixedWindow(_ context.Context, key string, limit int, window time.Duration) (store.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ent, ok := s.values[key]
	if !ok || s.expired(ent.expiresAt) {
		s.values[key] = valueEntry{value: "1", expiresAt: now.Add(window)}
		return store.Decision{Allowed: true, Remaining: limit - 1}, nil
	}

	count := parseCount(ent.value) + 1
	ent.value = formatCount(count)
	s.values[key] = ent

	if count > limit {
		retry := ent.expiresAt.Sub(now)
		if retry <= 0 {
			retry = window
		}
		return store.Decision{RetryAfter: retry.Round(time.Second)}, nil
	}
	return store.Decision{Allowed: true, Remaining: limit - count}, nil
}

// TokenBucket implements store.Admission with the same second-granularity
// refill arithmetic as the Redis script.
func (s *Store) TokenBucket(_ context.Context, key string, ratePerSec float64, capacity int) (store.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	nowSec := now.Unix()

	b, ok := s.buckets[key]
	if !ok || s.expired(b.expiresAt) {
		b = &bucketEntry{tokens: capacity, last: nowSec}
		s.buckets[key] = b
	}

	elapsed := nowSec - b.last
	refill := int(math.Floor(float64(elapsed) * ratePerSec))
	b.tokens = min(capacity, b.tokens+refill)

	if b.tokens < 1 {
		wait := int(math.Ceil(float64(1-b.tokens) / ratePerSec))
		return store.Decision{RetryAfter: time.Duration(wait) * time.Second}, nil
	}

	b.tokens--
	b.last = nowSec
	keep := time.Duration(math.Ceil(float64(capacity)/ratePerSec)+120) * time.Second
	b.expiresAt = now.Add(keep)
	return store.Decision{Allowed: true, Remaining: b.tokens}, nil
}

// SlidingWindow implements store.Admission.
func (s *Store) SlidingWindow(_ context.Context, key string, limit int, window time.Duration) (store.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	kept := s.samples[key][:0]
	for _, smp := range s.samples[key] {
		if smp.at.After(cutoff) {
			kept = append(kept, smp)
		}
	}

	if len(kept) >= limit {
		s.samples[key] = kept
		return store.Decision{RetryAfter: time.Second}, nil
	}

	s.samples[key] = append(kept, sample{at: now})
	return store.Decision{Allowed: true, Remaining: limit - len(kept) - 1}, nil
}

func parseCount(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func formatCount(n int) string {
	return strconv.Itoa(n)
}

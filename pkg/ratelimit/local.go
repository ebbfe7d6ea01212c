package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter holds per-key token buckets in process memory. It only
// sees traffic while the shared store is unreachable, so its counts are
// per-instance approximations, not the distributed truth; the pipeline
// uses it purely to keep an outage from turning into an unthrottled
// flood.
type LocalLimiter struct {
	mu           sync.Mutex
	entries      map[string]*localEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LocalOption configures a LocalLimiter.
type LocalOption func(*LocalLimiter)

// WithIdleTTL sets how long an unused key's limiter is retained.
func WithIdleTTL(d time.Duration) LocalOption {
	return func(l *LocalLimiter) { l.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) LocalOption {
	return func(l *LocalLimiter) { l.cleanupEvery = d }
}

// NewLocalLimiter creates an empty local limiter.
func NewLocalLimiter(opts ...LocalOption) *LocalLimiter {
	l := &LocalLimiter{
		entries:      make(map[string]*localEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one event for key fits within rps/burst. The
// limiter for a key is created on first use with the rate supplied then;
// later calls reuse it, so a policy change takes effect after the idle
// TTL recycles the entry.
func (l *LocalLimiter) Allow(key string, rps float64, burst int) bool {
	now := time.Now()

	l.mu.Lock()
	ent, ok := l.entries[key]
	if !ok {
		ent = &localEntry{lim: rate.NewLimiter(rate.Limit(rps), burst)}
		l.entries[key] = ent
	}
	ent.lastSeen = now
	lim := ent.lim
	l.mu.Unlock()

	return lim.Allow()
}

// Cleanup drops limiters that have been idle past the TTL.
func (l *LocalLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor starts a goroutine that cleans idle keys periodically.
// Stop it by cancelling the context.
func (l *LocalLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}

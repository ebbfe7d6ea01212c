package ratelimit

import (
	"testing"
	"time"
)

func TestLocalLimiterAllow(t *testing.T) {
	l := NewLocalLimiter()

	// Burst of 2 at a slow refill: two immediate events pass, the third
	// is throttled.
	if !l.Allow("k", 0.1, 2) {
		t.Fatal("first event should pass")
	}
	if !l.Allow("k", 0.1, 2) {
		t.Fatal("second event should pass")
	}
	if l.Allow("k", 0.1, 2) {
		t.Fatal("third event should be throttled")
	}

	// Keys are independent.
	if !l.Allow("other", 0.1, 2) {
		t.Error("a fresh key should have its own burst")
	}
}

func TestLocalLimiterCleanup(t *testing.T) {
	l := NewLocalLimiter(WithIdleTTL(10 * time.Millisecond))

	l.Allow("stale", 1, 1)
	time.Sleep(20 * time.Millisecond)
	l.Allow("fresh", 1, 1)

	l.Cleanup()

	l.mu.Lock()
	_, staleKept := l.entries["stale"]
	_, freshKept := l.entries["fresh"]
	l.mu.Unlock()

	if staleKept {
		t.Error("idle entry should have been dropped")
	}
	if !freshKept {
		t.Error("recently used entry should survive cleanup")
	}
}

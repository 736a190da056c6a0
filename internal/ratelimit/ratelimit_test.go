package ratelimit

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("ops"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.Allow("ops"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCallersIsolated(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// b has its own bucket.
	if err := l.Allow("b"); err != nil {
		t.Fatal(err)
	}
}

func TestUnlimitedWhenRateZero(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 600, BurstSize: 1}) // 10 tokens/sec

	if err := l.Allow("ops"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("ops"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Backdate the bucket instead of sleeping.
	l.mu.Lock()
	l.callers["ops"].lastSeen = time.Now().Add(-time.Second)
	l.mu.Unlock()

	if err := l.Allow("ops"); err != nil {
		t.Fatalf("expected refill to admit request, got %v", err)
	}
}

func TestIdleSweep(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	for i := 0; i < sweepThreshold; i++ {
		if err := l.Allow(fmt.Sprintf("caller-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// Age everything past the idle TTL, then trip the sweep with a newcomer.
	l.mu.Lock()
	stale := time.Now().Add(-idleTTL - time.Minute)
	for _, b := range l.callers {
		b.lastSeen = stale
	}
	l.mu.Unlock()

	if err := l.Allow("newcomer"); err != nil {
		t.Fatal(err)
	}

	l.mu.Lock()
	n := len(l.callers)
	l.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected sweep to leave 1 bucket, got %d", n)
	}
}

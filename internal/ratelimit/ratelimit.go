// Package ratelimit implements a per-caller token bucket rate limiter for the
// admin API. Thread-safe. No background goroutines — buckets refill lazily on
// each Allow call and idle buckets are swept opportunistically.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleTTL is how long a bucket may sit untouched before a sweep drops it.
// An idle bucket is full by definition, so dropping it changes nothing.
const idleTTL = 10 * time.Minute

// sweepThreshold is the map size that triggers an idle sweep inside Allow.
const sweepThreshold = 1024

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter is a per-caller token bucket rate limiter.
// Each caller gets an independent bucket; one caller cannot exhaust
// another's quota.
type Limiter struct {
	mu      sync.Mutex
	callers map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // max bucket capacity
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		callers: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow checks whether the caller has tokens remaining.
// Consumes one token on success. Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(callerID string) error {
	// Unlimited mode.
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.callers[callerID]
	if !ok {
		if len(l.callers) >= sweepThreshold {
			l.sweepLocked(now)
		}
		// First request: start with a full bucket.
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.callers[callerID] = b
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	// Try to consume one token.
	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// sweepLocked drops buckets idle long enough to have refilled completely.
// Caller holds l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	for id, b := range l.callers {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.callers, id)
		}
	}
}

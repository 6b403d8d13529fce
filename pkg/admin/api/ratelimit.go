package api

import (
	"sync"
	"time"
)

// defaultTokenRate is the per-minute allowance for client ids that have
// not authenticated yet; a successful authentication installs the
// account's own rate_limit.
const defaultTokenRate = 100

// rateLimiter is a per-key token bucket. Each key refills at its limit
// per minute and may burst up to one full minute's allowance.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	limit    int
	refillAt time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token for key, reporting whether the request may
// proceed. Unknown keys start with the default allowance.
func (l *rateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: defaultTokenRate, limit: defaultTokenRate, refillAt: now}
		l.buckets[key] = b
	}
	l.refill(b, now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// SetLimit installs the account's rate limit for key; the bucket keeps
// its current fill so a limit change never grants a free burst.
func (l *rateLimiter) SetLimit(key string, perMinute int) {
	if perMinute <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(perMinute), limit: perMinute, refillAt: now}
		return
	}
	l.refill(b, now)
	b.limit = perMinute
	if b.tokens > float64(perMinute) {
		b.tokens = float64(perMinute)
	}
}

// refill credits tokens for the time elapsed since the last refill
func (l *rateLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.refillAt)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Minutes() * float64(b.limit)
	if b.tokens > float64(b.limit) {
		b.tokens = float64(b.limit)
	}
	b.refillAt = now
}

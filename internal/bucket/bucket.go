// Package bucket implements the continuous-refill token bucket primitive
// used by a Tank for RPM-style sub-limits.
package bucket

import (
	"time"
)

// TokenBucket holds capacity C, current tokens t, and a refill rate r
// (tokens/sec). Invariant: 0 <= t <= C.
type TokenBucket struct {
	Capacity   float64
	Tokens     float64
	RefillRate float64 // tokens per second
	LastUpdate time.Time
}

// New returns a TokenBucket starting full, as of now.
func New(capacity, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		Capacity:   capacity,
		Tokens:     capacity,
		RefillRate: refillRate,
		LastUpdate: now,
	}
}

// Refill adds (now - LastUpdate) * RefillRate tokens, clamped to Capacity,
// and advances LastUpdate. A now at or before LastUpdate is a no-op, so
// callers never need to guard against clock skew themselves.
func (b *TokenBucket) Refill(now time.Time) {
	if !now.After(b.LastUpdate) {
		return
	}
	elapsed := now.Sub(b.LastUpdate).Seconds()
	b.Tokens += elapsed * b.RefillRate
	if b.Tokens > b.Capacity {
		b.Tokens = b.Capacity
	}
	b.LastUpdate = now
}

// TryConsume refills as of now, then atomically subtracts amount iff
// Tokens >= amount. Returns whether the consumption succeeded.
func (b *TokenBucket) TryConsume(amount float64, now time.Time) bool {
	b.Refill(now)
	if b.Tokens < amount {
		return false
	}
	b.Tokens -= amount
	return true
}

// TimeUntil refills as of now, then returns how long until amount tokens
// would be available, or 0 if already available.
func (b *TokenBucket) TimeUntil(amount float64, now time.Time) time.Duration {
	b.Refill(now)
	if b.Tokens >= amount {
		return 0
	}
	if b.RefillRate <= 0 {
		return time.Duration(1<<63 - 1) // never
	}
	deficit := amount - b.Tokens
	seconds := deficit / b.RefillRate
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}

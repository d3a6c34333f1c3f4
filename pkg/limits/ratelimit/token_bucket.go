package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket allows bursts up to its capacity while holding the average rate
// to refillRate tokens per second. Each request consumes one token.
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket.
//
//	// 10 requests/sec average, burst up to 50
//	bucket := NewTokenBucket(50, 10)
func NewTokenBucket(capacity int64, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int64, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Take attempts to consume n tokens. It returns false, consuming nothing,
// when fewer than n are available.
func (tb *TokenBucket) Take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// Remaining returns the number of tokens currently available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.tokens
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() int64 {
	return tb.capacity
}

// Reset refills the bucket.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// TimeUntilAvailable returns how long until n tokens will be available.
func (tb *TokenBucket) TimeUntilAvailable(n int64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= n {
		return 0
	}
	if tb.refillRate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	needed := float64(n-tb.tokens) / tb.refillRate
	return time.Duration(needed * float64(time.Second))
}

// refillLocked adds whole tokens for the time elapsed since the last
// refill. Caller must hold the lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	add := int64(now.Sub(tb.lastRefill).Seconds() * tb.refillRate)
	if add <= 0 {
		return
	}
	tb.tokens += add
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

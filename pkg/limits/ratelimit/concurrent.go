package ratelimit

import (
	"sync/atomic"
)

// ConcurrentLimiter limits the number of simultaneous in-flight requests.
// It is a counting semaphore built on atomic operations.
type ConcurrentLimiter struct {
	limit   int64
	current int64
}

// NewConcurrentLimiter creates a limiter admitting at most limit requests.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire attempts to acquire a slot. A true result must be paired with
// Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	if atomic.AddInt64(&cl.current, 1) > cl.limit {
		atomic.AddInt64(&cl.current, -1)
		return false
	}
	return true
}

// Release returns a slot taken by Acquire.
func (cl *ConcurrentLimiter) Release() {
	atomic.AddInt64(&cl.current, -1)
}

// Current returns the number of in-flight requests.
func (cl *ConcurrentLimiter) Current() int64 {
	return atomic.LoadInt64(&cl.current)
}

// Limit returns the configured concurrency limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free slots.
func (cl *ConcurrentLimiter) Remaining() int64 {
	remaining := cl.limit - atomic.LoadInt64(&cl.current)
	if remaining < 0 {
		return 0
	}
	return remaining
}

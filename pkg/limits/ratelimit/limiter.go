package ratelimit

import (
	"math"
	"sync"
	"time"
)

// DefaultIdleTTL is how long an unused client bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// Limiter applies a token bucket per client key and an optional global
// concurrency cap.
type Limiter struct {
	config     Config
	concurrent *ConcurrentLimiter
	now        func() time.Time

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewLimiter creates a limiter for cfg.
//
//	limiter := NewLimiter(Config{RequestsPerSecond: 5, Burst: 10, MaxConcurrent: 32})
func NewLimiter(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	if cfg.Burst <= 0 && cfg.RequestsPerSecond > 0 {
		cfg.Burst = int(math.Max(1, math.Ceil(2*cfg.RequestsPerSecond)))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	l := &Limiter{
		config:    cfg,
		now:       now,
		buckets:   make(map[string]*clientBucket),
		lastSweep: now(),
	}
	if cfg.MaxConcurrent > 0 {
		l.concurrent = NewConcurrentLimiter(cfg.MaxConcurrent)
	}
	return l
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) *CheckResult {
	if l.config.RequestsPerSecond <= 0 {
		return &CheckResult{Allowed: true}
	}

	bucket := l.bucketFor(key)
	if !bucket.Take(1) {
		return &CheckResult{
			Allowed:    false,
			Reason:     "request rate limit exceeded",
			Limit:      bucket.Capacity(),
			Remaining:  0,
			RetryAfter: bucket.TimeUntilAvailable(1),
		}
	}
	return &CheckResult{
		Allowed:   true,
		Limit:     bucket.Capacity(),
		Remaining: bucket.Remaining(),
	}
}

// Acquire takes a concurrency slot. A true result must be paired with
// Release.
func (l *Limiter) Acquire() bool {
	if l.concurrent == nil {
		return true
	}
	return l.concurrent.Acquire()
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	if l.concurrent != nil {
		l.concurrent.Release()
	}
}

// Clients returns the number of client buckets currently held.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucketFor(key string) *TokenBucket {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.config.IdleTTL {
		for k, cb := range l.buckets {
			if now.Sub(cb.lastSeen) >= l.config.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	cb, ok := l.buckets[key]
	if !ok {
		cb = &clientBucket{bucket: newTokenBucket(int64(l.config.Burst), l.config.RequestsPerSecond, l.now)}
		l.buckets[key] = cb
	}
	cb.lastSeen = now
	return cb.bucket
}

package ratelimit

import "time"

// Config configures a Limiter. Zero values disable the matching limit.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per client.
	RequestsPerSecond float64

	// Burst is the bucket capacity per client. Zero means
	// max(1, 2*RequestsPerSecond).
	Burst int

	// MaxConcurrent caps in-flight requests across all clients.
	MaxConcurrent int

	// IdleTTL is how long an unused client bucket is kept. Zero means
	// ten minutes.
	IdleTTL time.Duration
}

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Reason explains why the request was rejected.
	Reason string

	// Limit is the configured limit value.
	Limit int64

	// Remaining is how many requests remain before the limit is hit.
	Remaining int64

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration
}

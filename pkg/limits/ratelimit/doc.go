// Package ratelimit throttles API callers.
//
// A Limiter keeps one token bucket per client key, evicting buckets that
// have been idle for Config.IdleTTL, and an optional concurrency cap shared
// by all clients. Middleware applies both to an HTTP handler:
//
//	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 5, Burst: 10})
//	r.With(ratelimit.Middleware(limiter, ratelimit.RemoteIP, nil)).Post("/execute", h)
//
// Rejected requests carry a Retry-After header rounded up to whole seconds.
package ratelimit

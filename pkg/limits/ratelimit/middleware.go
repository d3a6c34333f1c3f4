package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
)

// KeyFunc names the client a request is counted against.
type KeyFunc func(r *http.Request) string

// RejectFunc writes the response for a throttled request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, res *CheckResult)

// RemoteIP keys requests by the host part of RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware throttles requests through l. It sets X-RateLimit-Limit and
// X-RateLimit-Remaining on every counted response and Retry-After on
// rejections.
func Middleware(l *Limiter, key KeyFunc, reject RejectFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteIP
	}
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request, res *CheckResult) {
			http.Error(w, res.Reason, http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(key(r))
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				reject(w, r, res)
				return
			}

			if !l.Acquire() {
				reject(w, r, &CheckResult{
					Allowed:    false,
					Reason:     "too many concurrent requests",
					Limit:      int64(l.config.MaxConcurrent),
					RetryAfter: 0,
				})
				return
			}
			defer l.Release()

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Limiter is the per-key token bucket.
type Limiter interface {
	Allow(key string, limit int) (bool, time.Duration)
}

// RateLimit enforces each key's rate_limit, or defaultLimit when the key
// has none. Requests Auth let through without a key are not limited.
func RateLimit(limiter Limiter, defaultLimit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetKeyInfo(r.Context())
			if info == nil || isHealth(r) {
				next.ServeHTTP(w, r)
				return
			}

			limit := info.RateLimit
			if limit <= 0 {
				limit = defaultLimit
			}
			ok, wait := limiter.Allow(strconv.FormatInt(info.ID, 10), limit)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

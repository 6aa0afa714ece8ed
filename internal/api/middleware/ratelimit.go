package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apipulse/apipulse/internal/api/response"
	"github.com/apipulse/apipulse/internal/cache"
)

const (
	defaultWindow      = time.Minute
	defaultMaxRequests = 60
)

// RateLimit provides sliding-window rate limiting via Redis.
type RateLimit struct {
	cache       cache.Cache
	window      time.Duration
	maxRequests int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, window time.Duration, maxRequests int) *RateLimit {
	if window <= 0 {
		window = defaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}
	return &RateLimit{cache: c, window: window, maxRequests: maxRequests}
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// No key prefix means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		key := cache.RateLimitKey(prefix)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rl.window)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.maxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(rl.window).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.maxRequests) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

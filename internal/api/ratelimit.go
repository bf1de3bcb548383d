package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/reelshelf/reelshelf-server/internal/http/response"
	"github.com/reelshelf/reelshelf-server/internal/ratelimit"
)

// NewRateLimiter creates a per-client limiter allowing ratePerInterval requests
// per interval with the given burst.
func NewRateLimiter(ratePerInterval int, interval time.Duration, burst int) *ratelimit.KeyedRateLimiter {
	return ratelimit.New(ratelimit.PerInterval(ratePerInterval, interval), burst, ratelimit.DefaultIdleTTL)
}

// RateLimitMiddleware rate limits mutating requests by client IP.
// Reads pass through: status polling and event streams are not throttled.
// Returns 429 Too Many Requests when limit is exceeded.
func RateLimitMiddleware(limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if !limiter.Allow(key) {
				logger.Warn("rate limit exceeded",
					slog.String("ip", key),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				response.TooManyRequests(w, "Too many requests. Please try again later.", logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

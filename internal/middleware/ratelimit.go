package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"insafe-backend/internal/cache"
)

const registerWindow = time.Minute

// RateLimitRegister caps registrations per client IP per minute. A nil
// client or a non-positive limit disables the check; Redis errors fail open.
func RateLimitRegister(cacheClient cache.Client, limit int, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cacheClient == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			count, err := cacheClient.IncrWithTTL(r.Context(), "rl:register:"+ip, registerWindow)
			if err != nil {
				logger.Warn().Err(err).Str("ip", ip).Msg("rate limit check failed")
			} else if count > int64(limit) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the socket address. Request headers are
// ignored; RealIP rewrites RemoteAddr when proxy headers are trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package middleware provides HTTP middleware for authentication, logging,
// rate limiting, and request validation on the admin API. APIKeyAuth and
// Logging are Huma middleware; MaxBodySize and RateLimiter are net/http
// middleware installed on the chi router.
//
// Available middleware:
//   - APIKeyAuth: optional API key authentication via X-API-Key header
//   - Logging: structured request/response logging with slog
//   - MaxBodySize: limits request body size to prevent memory exhaustion
//   - RateLimiter: token bucket rate limiting per-IP and globally
package middleware

import "net/http"

// MaxBodySize returns a middleware that limits the maximum size of request
// bodies, guarding against memory exhaustion from oversized payloads.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-IP and global rate limiting over the admin API
// using the token bucket algorithm.
type RateLimiter struct {
	ipLimiters map[string]*rate.Limiter
	mu         sync.RWMutex
	perIPRate  rate.Limit
	perIPBurst int

	globalLimiter *rate.Limiter

	logger *slog.Logger
}

// NewRateLimiter creates a rate limiter with per-IP and global limits.
func NewRateLimiter(perIPRate, perIPBurst, globalRate, globalBurst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		ipLimiters:    make(map[string]*rate.Limiter),
		perIPRate:     rate.Limit(perIPRate),
		perIPBurst:    perIPBurst,
		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		logger:        logger,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.ipLimiters[ip]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists := rl.ipLimiters[ip]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rl.perIPRate, rl.perIPBurst)
	rl.ipLimiters[ip] = limiter
	return limiter
}

// Middleware returns an http.Handler middleware enforcing both limits.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			if !rl.globalLimiter.Allow() {
				rl.logger.Warn("global rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)
				http.Error(w, `{"error":"rate limit exceeded globally, try again later"}`, http.StatusTooManyRequests)
				return
			}

			if limiter := rl.getLimiter(ip); !limiter.Allow() {
				rl.logger.Warn("per-IP rate limit exceeded", "ip", ip, "path", r.URL.Path, "method", r.Method)
				http.Error(w, `{"error":"rate limit exceeded for your IP, try again later"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP, honoring X-Forwarded-For / X-Real-IP
// for requests behind a proxy.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := parseFirstIP(xff); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := parseIP(xri); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func parseFirstIP(ips string) string {
	for i := 0; i < len(ips); i++ {
		if ips[i] == ',' {
			return parseIP(ips[:i])
		}
	}
	return parseIP(ips)
}

func parseIP(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	if start >= end {
		return ""
	}
	ip := s[start:end]
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

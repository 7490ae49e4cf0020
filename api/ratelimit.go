package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 1 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// ipLimiterEntry holds a rate limiter and last-seen timestamp for
// eviction.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages one token bucket per client IP. Idle entries
// are evicted so a public feed endpoint does not accumulate a bucket
// for every subscriber that ever polled it.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter creates a limiter allowing r events per second with
// the given burst per client IP.
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     r,
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

// PerMinute builds a limiter allowing n requests per minute per client
// with a burst of n. Returns nil when n <= 0; a nil limiter disables
// rate limiting in the wrapping handlers.
func PerMinute(n int) *IPRateLimiter {
	if n <= 0 {
		return nil
	}
	return NewIPRateLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// getLimiter returns the rate limiter for the given IP, creating one if
// needed.
func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = &ipLimiterEntry{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanup evicts entries not seen within the idle TTL.
func (rl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, entry := range rl.limiters {
			if time.Since(entry.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// getClientIP extracts the client IP, preferring proxy headers so
// deployments behind a reverse proxy limit the real subscriber, not the
// proxy.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// RateLimitHandler wraps an http.Handler with per-IP rate limiting.
// Returns 429 Too Many Requests when the limit is exceeded. A nil
// limiter passes every request through.
func RateLimitHandler(rl *IPRateLimiter, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(getClientIP(r)).Allow() {
			writeRateLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitHandlerFunc wraps an http.HandlerFunc with per-IP rate
// limiting. A nil limiter passes every request through.
func RateLimitHandlerFunc(rl *IPRateLimiter, next http.HandlerFunc) http.HandlerFunc {
	if rl == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(getClientIP(r)).Allow() {
			writeRateLimited(w)
			return
		}
		next(w, r)
	}
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
}

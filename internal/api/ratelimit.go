// Rate limiting for endpoints that generate chunks or search paths.
// Simple in-memory fixed window per client address.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per client within a fixed window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*clientWindow
	lastSweep time.Time
}

type clientWindow struct {
	start time.Time
	used  int
}

// NewRateLimiter allows limit requests per client in each window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		now:       time.Now,
		windows:   make(map[string]*clientWindow),
		lastSweep: time.Now(),
	}
}

// Allow records a request from client and reports whether it is within the limit.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > 2*rl.window {
		rl.sweep(now)
	}

	cw, seen := rl.windows[client]
	if !seen || now.Sub(cw.start) >= rl.window {
		cw = &clientWindow{start: now}
		rl.windows[client] = cw
	}
	if cw.used >= rl.limit {
		return false
	}
	cw.used++
	return true
}

// RetryAfter is the number of whole seconds until client's window resets.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cw, seen := rl.windows[client]
	if !seen {
		return 0
	}
	left := cw.start.Add(rl.window).Sub(rl.now())
	if left <= 0 {
		return 0
	}
	return int(left.Seconds()) + 1
}

// sweep forgets clients idle for two windows. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for client, cw := range rl.windows {
		if now.Sub(cw.start) > 2*rl.window {
			delete(rl.windows, client)
		}
	}
	rl.lastSweep = now
}

// clientIP returns the first X-Forwarded-For entry, or the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the limit with 429 and a
// Retry-After header.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if rl.Allow(client) {
			next(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(client)))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}
}

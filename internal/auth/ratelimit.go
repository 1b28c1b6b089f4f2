package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Per-IP limits: login attempts and 2FA attempts refill continuously.
const (
	LoginAttemptsPerMinute = 20
	TwoFAAttemptsPerMinute = 30
)

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing perMinute events per IP with
// a burst of the same size.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

// NewLoginRateLimiter creates the login bucket set (20/min per IP).
func NewLoginRateLimiter() *RateLimiter {
	return NewRateLimiter(LoginAttemptsPerMinute)
}

// NewTwoFARateLimiter creates the 2FA bucket set (30/min per IP).
func NewTwoFARateLimiter() *RateLimiter {
	return NewRateLimiter(TwoFAAttemptsPerMinute)
}

// Allow consumes one token for ip, reporting whether the request may
// proceed.
func (r *RateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[ip] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

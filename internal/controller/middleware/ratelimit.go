package middleware

import (
	"net/http"
	"sync"
	"time"

	"execplane/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per principal.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters sync.Map // principal -> *cachedLimiter
}

type RateLimiterOption func(*RateLimiter)

// WithLimit sets requests per second and burst. A zero limit disables limiting.
func WithLimit(perSecond float64, burst int) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.limit = rate.Limit(perSecond)
		rl.burst = burst
	}
}

// WithTTL sets how long an idle principal's bucket is kept.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

func WithNow(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) { rl.now = now }
}

func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{limit: 20, burst: 40, ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "unauthorized")
				return
			}

			if rl.limit > 0 && !rl.get(principal).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, api.ErrorResponse{Error: "too many requests", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) get(principal string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(principal); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(principal, &cachedLimiter{limiter: limiter, expiresAt: now.Add(rl.ttl)})
	return limiter
}

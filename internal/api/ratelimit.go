package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per client IP with a token bucket. Clients
// idle for two cleanup intervals are forgotten.
type RateLimiter struct {
	visitors *cache.Cache
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	Rate            float64 // requests per second
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns the LAN mode defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            10,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRateLimiter creates a limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	return &RateLimiter{
		visitors: cache.New(2*cfg.CleanupInterval, cfg.CleanupInterval),
		rate:     rate.Limit(cfg.Rate),
		burst:    cfg.Burst,
		now:      time.Now,
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	lim := rate.NewLimiter(rl.rate, rl.burst)
	if err := rl.visitors.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// Known client: reuse its bucket and push back its expiry.
		if v, ok := rl.visitors.Get(ip); ok {
			lim = v.(*rate.Limiter)
		}
		rl.visitors.SetDefault(ip, lim)
	}
	return lim.AllowN(rl.now(), 1)
}

// Visitors returns the number of tracked client IPs.
func (rl *RateLimiter) Visitors() int {
	return len(rl.visitors.Items())
}

// Stop forgets every tracked client.
func (rl *RateLimiter) Stop() {
	rl.visitors.Flush()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(extractIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractIP returns the client IP. RemoteAddr is trusted; no reverse proxy
// is expected in front of a LAN listener.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthFailureLimiter locks out client IPs after MaxFailures failed logins
// inside a sliding Window.
type AuthFailureLimiter struct {
	mu      sync.Mutex
	clients map[string]*loginHistory
	cfg     AuthFailureLimiterConfig
	now     func() time.Time
}

type loginHistory struct {
	failedAt    []time.Time
	lockedUntil time.Time
}

// AuthFailureLimiterConfig configures auth failure limiting.
type AuthFailureLimiterConfig struct {
	MaxFailures   int
	Window        time.Duration
	LockoutPeriod time.Duration
}

// DefaultAuthFailureLimiterConfig returns the LAN mode defaults.
func DefaultAuthFailureLimiterConfig() AuthFailureLimiterConfig {
	return AuthFailureLimiterConfig{
		MaxFailures:   5,
		Window:        5 * time.Minute,
		LockoutPeriod: 15 * time.Minute,
	}
}

// historyPruneSize is the table size at which idle clients are swept.
const historyPruneSize = 1024

func NewAuthFailureLimiter(cfg AuthFailureLimiterConfig) *AuthFailureLimiter {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &AuthFailureLimiter{
		clients: make(map[string]*loginHistory),
		cfg:     cfg,
		now:     time.Now,
	}
}

// IsLocked reports whether ip is currently locked out.
func (afl *AuthFailureLimiter) IsLocked(ip string) bool {
	return afl.LockoutSecondsRemaining(ip) > 0
}

// RecordFailure records a failed login for ip and returns how many attempts
// remain, or -1 when this failure triggered a lockout.
func (afl *AuthFailureLimiter) RecordFailure(ip string) int {
	afl.mu.Lock()
	defer afl.mu.Unlock()

	now := afl.now()
	h := afl.clients[ip]
	if h == nil {
		if len(afl.clients) >= historyPruneSize {
			afl.pruneLocked(now)
		}
		h = &loginHistory{}
		afl.clients[ip] = h
	}

	h.failedAt = append(h.failedAt[:0], afl.recent(h.failedAt, now)...)
	h.failedAt = append(h.failedAt, now)
	if len(h.failedAt) >= afl.cfg.MaxFailures {
		h.failedAt = nil
		h.lockedUntil = now.Add(afl.cfg.LockoutPeriod)
		return -1
	}
	return afl.cfg.MaxFailures - len(h.failedAt)
}

// RecordSuccess forgets ip.
func (afl *AuthFailureLimiter) RecordSuccess(ip string) {
	afl.mu.Lock()
	delete(afl.clients, ip)
	afl.mu.Unlock()
}

// LockoutSecondsRemaining returns the whole seconds until ip's lockout
// ends, plus one, for use as Retry-After. Zero when not locked.
func (afl *AuthFailureLimiter) LockoutSecondsRemaining(ip string) int {
	afl.mu.Lock()
	defer afl.mu.Unlock()

	h := afl.clients[ip]
	if h == nil {
		return 0
	}
	left := h.lockedUntil.Sub(afl.now())
	if left <= 0 {
		return 0
	}
	return int(left/time.Second) + 1
}

// recent returns the failures still inside the window.
func (afl *AuthFailureLimiter) recent(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-afl.cfg.Window)
	for i, t := range times {
		if t.After(cutoff) {
			return times[i:]
		}
	}
	return nil
}

func (afl *AuthFailureLimiter) pruneLocked(now time.Time) {
	for ip, h := range afl.clients {
		if !now.Before(h.lockedUntil) && len(afl.recent(h.failedAt, now)) == 0 {
			delete(afl.clients, ip)
		}
	}
}

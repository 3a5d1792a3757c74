package security

import (
	"log/slog"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultMaxRegistrationsPerWindow limits client registrations per IP
	// per window to prevent resource exhaustion through mass registration
	DefaultMaxRegistrationsPerWindow = 10

	// DefaultRegistrationWindow is the fixed window for registration limits
	DefaultRegistrationWindow = time.Hour
)

// RegistrationRateLimiter applies a fixed-window per-IP limit on dynamic
// client registrations. Counters live in an expiring cache keyed by IP, so
// idle IPs age out without a bespoke cleanup pass.
type RegistrationRateLimiter struct {
	counters *gocache.Cache
	max      int
	window   time.Duration
	logger   *slog.Logger

	allowed int64
	blocked int64
}

// NewRegistrationRateLimiter creates a registration limiter with the
// default window (10 registrations per IP per hour).
func NewRegistrationRateLimiter(logger *slog.Logger) *RegistrationRateLimiter {
	return NewRegistrationRateLimiterWithConfig(DefaultMaxRegistrationsPerWindow, DefaultRegistrationWindow, logger)
}

// NewRegistrationRateLimiterWithConfig creates a registration limiter with
// a custom limit and window
func NewRegistrationRateLimiterWithConfig(maxPerWindow int, window time.Duration, logger *slog.Logger) *RegistrationRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxRegistrationsPerWindow
	}
	if window <= 0 {
		window = DefaultRegistrationWindow
	}

	return &RegistrationRateLimiter{
		counters: gocache.New(window, 2*window),
		max:      maxPerWindow,
		window:   window,
		logger:   logger,
	}
}

// Allow reports whether a registration from the given IP may proceed and
// counts it when it may
func (rl *RegistrationRateLimiter) Allow(ip string) bool {
	// Add only succeeds when the key is absent, which starts the window
	if err := rl.counters.Add(ip, int64(1), rl.window); err == nil {
		atomic.AddInt64(&rl.allowed, 1)
		return true
	}

	count, err := rl.counters.IncrementInt64(ip, 1)
	if err != nil {
		// Window expired between Add and Increment; start a fresh one
		rl.counters.Set(ip, int64(1), rl.window)
		atomic.AddInt64(&rl.allowed, 1)
		return true
	}

	if count > int64(rl.max) {
		atomic.AddInt64(&rl.blocked, 1)
		rl.logger.Warn("client registration rate limit exceeded",
			"ip", ip,
			"count", count,
			"max_per_window", rl.max)
		return false
	}

	atomic.AddInt64(&rl.allowed, 1)
	return true
}

// Stats returns the running allowed/blocked counters
func (rl *RegistrationRateLimiter) Stats() (allowed, blocked int64) {
	return atomic.LoadInt64(&rl.allowed), atomic.LoadInt64(&rl.blocked)
}

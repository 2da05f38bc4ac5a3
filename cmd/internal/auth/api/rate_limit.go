package authapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter throttles login attempts per client IP with a token bucket.
// Entries idle longer than the prune window are dropped on the next access,
// so the map stays bounded without a background goroutine.
type loginLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLoginLimiter(perMinute, burst int) *loginLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &loginLimiter{
		perIP:   make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idleTTL: 15 * time.Minute,
	}
}

func (l *loginLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	e, ok := l.perIP[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.perIP[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *loginLimiter) pruneLocked(now time.Time) {
	for key, e := range l.perIP {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.perIP, key)
		}
	}
}

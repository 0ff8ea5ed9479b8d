package websocket

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 30
	DefaultRateWindow = 10 * time.Second
)

// RateLimiter admits at most max messages in any sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	stamps []time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window, now: time.Now}
}

// Allow records the call and reports whether it fits in the window.
// Rejected calls are not recorded.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) >= l.max {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

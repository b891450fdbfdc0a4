package queue

import (
	"sync"
	"time"
)

// slidingWindowLimiter bounds the Overlord's own outbound request rate,
// distinct from the host's reported rate-limit budget. A single
// process-wide counter is enough since the Scanner has exactly one
// caller.
type slidingWindowLimiter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

func newSlidingWindowLimiter(maxRequests int, window time.Duration, now func() time.Time) *slidingWindowLimiter {
	if maxRequests <= 0 {
		maxRequests = 900
	}
	if window <= 0 {
		window = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &slidingWindowLimiter{maxRequests: maxRequests, window: window, now: now}
}

func (l *slidingWindowLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 1
		return true
	}

	if l.count >= l.maxRequests {
		return false
	}
	l.count++
	return true
}

package ratelimiter

import (
	"sync"
	"time"
)

// Limiter allows one action per interval for each key and counts the calls
// it suppressed in between. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	keys     map[string]*keyState
}

type keyState struct {
	lastAllowed time.Time
	suppressed  int
}

// New creates a limiter with the specified interval
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, time.Now)
}

// NewWithClock creates a limiter that reads time from now
func NewWithClock(interval time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		interval: interval,
		now:      now,
		keys:     make(map[string]*keyState),
	}
}

// Allow reports whether an action for key may run now. When it returns true
// it also returns how many calls were suppressed since the last allowed one.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.keys[key]
	if !ok {
		l.keys[key] = &keyState{lastAllowed: now}
		return true, 0
	}

	if now.Sub(st.lastAllowed) >= l.interval {
		suppressed := st.suppressed
		st.lastAllowed = now
		st.suppressed = 0
		return true, suppressed
	}

	st.suppressed++
	return false, 0
}

// Forget drops the state of key so its next action is allowed immediately
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
}

// Interval returns the configured rate limit interval
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

package sweep

import (
	"sync"
	"time"
)

// Limiter enforces a minimum interval between writes per parameter class
// (e.g. "filter" vs "volume"), not per individual parameter. Sweeps on the
// same class share one budget; sweeps on different classes are independent.
type Limiter struct {
	mu sync.Mutex

	defaultInterval time.Duration
	intervals       map[string]time.Duration
	lastWrite       map[string]time.Time
}

// NewLimiter creates a limiter with a shared default per-class interval.
func NewLimiter(defaultInterval time.Duration) *Limiter {
	if defaultInterval <= 0 {
		defaultInterval = 50 * time.Millisecond
	}
	return &Limiter{
		defaultInterval: defaultInterval,
		intervals:       make(map[string]time.Duration),
		lastWrite:       make(map[string]time.Time),
	}
}

// SetClassInterval overrides the write interval for one class.
func (l *Limiter) SetClassInterval(class string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intervals[class] = d
}

// Allow reports whether a write for the class may happen at now, and if so
// records it as the class's last write. Denied writes are skipped, not
// queued.
func (l *Limiter) Allow(class string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	interval := l.defaultInterval
	if d, ok := l.intervals[class]; ok {
		interval = d
	}

	last, ok := l.lastWrite[class]
	if ok && now.Sub(last) < interval {
		return false
	}
	l.lastWrite[class] = now
	return true
}

// Reset clears all last-write state, e.g. after an emergency stop.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastWrite = make(map[string]time.Time)
}

package guard

import "time"

// RateLimiter enforces a minimum interval between runs of a named operation.
// It is not safe for concurrent use; callers serialize access.
type RateLimiter struct {
	interval time.Duration
	now      func() time.Time
	last     map[string]time.Time
}

func NewRateLimiter(interval time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		interval: interval,
		now:      now,
		last:     make(map[string]time.Time),
	}
}

// Allow records a run of op and returns true when op has never run or last
// ran at least the configured interval ago.
func (r *RateLimiter) Allow(op string) bool {
	now := r.now()
	if last, ok := r.last[op]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.last[op] = now
	return true
}

// Record marks op as run now without checking the interval.
func (r *RateLimiter) Record(op string) {
	r.last[op] = r.now()
}

// Remaining returns how long until op may run again.
func (r *RateLimiter) Remaining(op string) time.Duration {
	last, ok := r.last[op]
	if !ok {
		return 0
	}
	wait := r.interval - r.now().Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset forgets op so the next Allow succeeds.
func (r *RateLimiter) Reset(op string) {
	delete(r.last, op)
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps counters in process. Each replica enforces its own limit.
type MemoryLimiter struct {
	policy Policy

	mu       sync.Mutex
	current  time.Time
	counters map[Key]int
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   Policy{Limit: limit, Window: window},
		counters: make(map[Key]int),
	}
}

func (l *MemoryLimiter) Take(_ context.Context, key Key, now time.Time) (Decision, error) {
	if err := l.policy.validate(); err != nil {
		return Decision{}, err
	}
	start, end := l.policy.bounds(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	// counters only ever describe the newest window seen
	if start.After(l.current) {
		l.current = start
		clear(l.counters)
	} else if start.Before(l.current) {
		// a caller with a stale clock is charged against the live window
		start, end = l.current, l.current.Add(l.policy.Window)
	}

	l.counters[key]++
	return l.policy.decide(l.counters[key], now, end), nil
}

// Tracked reports how many keys hold a counter in the live window.
func (l *MemoryLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

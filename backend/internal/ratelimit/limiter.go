// Package ratelimit throttles callers per scope with windows aligned to the
// wall clock, so every replica sharing a backend agrees on window boundaries.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Key identifies one throttled bucket, e.g. scope "orders" and a user id.
type Key struct {
	Scope   string
	Subject string
}

func (k Key) String() string { return k.Scope + ":" + k.Subject }

// Policy allows Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

var ErrInvalidPolicy = errors.New("rate limit policy needs a positive limit and window")

func (p Policy) validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// bounds returns the window containing now.
func (p Policy) bounds(now time.Time) (start, end time.Time) {
	start = now.Truncate(p.Window)
	return start, start.Add(p.Window)
}

// decide turns the post-increment count for a window into a Decision.
func (p Policy) decide(count int, now, reset time.Time) Decision {
	d := Decision{
		Allowed:   count <= p.Limit,
		Limit:     p.Limit,
		Remaining: p.Limit - count,
		Window:    p.Window,
		ResetAt:   reset,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = reset.Sub(now)
	}
	return d
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Window     time.Duration
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (d Decision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts one request against key at now.
type Limiter interface {
	Take(ctx context.Context, key Key, now time.Time) (Decision, error)
}

func windowID(start time.Time) string {
	return strconv.FormatInt(start.UnixMilli(), 10)
}

// Package userlock serializes read-modify-write sequences per user.
package userlock

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per user. Entries are dropped once nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	users map[uuid.UUID]*entry
}

func New() *Locker {
	return &Locker{users: make(map[uuid.UUID]*entry)}
}

// Lock blocks until the caller owns userID's mutex and returns the matching unlock func.
func (l *Locker) Lock(userID uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.users[userID]
	if !ok {
		e = &entry{}
		l.users[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.users, userID)
			}
			l.mu.Unlock()
		})
	}
}

// WithLock runs fn while holding userID's mutex.
func (l *Locker) WithLock(userID uuid.UUID, fn func() error) error {
	unlock := l.Lock(userID)
	defer unlock()
	return fn()
}

// Len returns the number of users currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

package userlock

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameUser(t *testing.T) {
	l := New()
	user := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithLock(user, func() error {
				v := counter
				time.Sleep(100 * time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}

func TestDifferentUsersDoNotBlock(t *testing.T) {
	l := New()
	a, b := uuid.New(), uuid.New()

	unlockA := l.Lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock(b)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user b blocked on user a")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	l := New()
	user := uuid.New()

	unlock := l.Lock(user)
	unlock()
	unlock()
	require.Equal(t, 0, l.Len())

	again := l.Lock(user)
	again()
}

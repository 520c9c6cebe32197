package handlers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLock_SerializesSameKey(t *testing.T) {
	l := newUserLock()

	const workers = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := l.Lock("user_1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestUserLock_EntriesReleasedWhenIdle(t *testing.T) {
	l := newUserLock()

	unlockA := l.Lock("user_a")
	unlockB := l.Lock("user_b")
	unlockA()
	unlockB()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}

func TestUserLock_IndependentKeysDoNotBlock(t *testing.T) {
	l := newUserLock()

	unlockA := l.Lock("user_a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("user_b")
		unlockB()
		close(done)
	}()

	<-done
}

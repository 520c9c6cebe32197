package handlers

import "sync"

// userLock serializes profile mutations per user id. Webhook deliveries for
// the same subscription can arrive concurrently in either order; holding the
// user's lock across dedup-check and store-write turns the pair into a
// critical section so two deliveries cannot interleave their partial updates.
type userLock struct {
	mu    sync.Mutex
	locks map[string]*userLockEntry
}

type userLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newUserLock() *userLock {
	return &userLock{locks: make(map[string]*userLockEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
// Entries are reference-counted and removed once the last holder releases,
// so the map does not grow with the user population.
func (l *userLock) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &userLockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

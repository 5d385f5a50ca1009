package service

import "sync"

// orderLocks serializes capture attempts per external order id within
// this process. Entries are reference counted and removed on release,
// so the map does not grow with order volume.
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: map[string]*orderLock{}}
}

// acquire blocks until the caller holds the lock for key. The returned
// function releases it.
func (l *orderLocks) acquire(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &orderLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

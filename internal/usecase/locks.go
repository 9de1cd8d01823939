package usecase

import "sync"

// chatLocks serialises work per chat id. Entries are reference counted and
// dropped once nobody holds or waits on them.
type chatLocks struct {
	mu sync.Mutex
	m  map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{m: map[string]*chatLock{}}
}

func (l *chatLocks) acquire(id string) *chatLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.m[id]
	if !ok {
		c = &chatLock{}
		l.m[id] = c
	}
	c.refs++
	return c
}

func (l *chatLocks) release(id string, c *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.refs--
	if c.refs == 0 {
		delete(l.m, id)
	}
}

// Lock blocks until id is free and returns its unlock function.
func (l *chatLocks) Lock(id string) func() {
	c := l.acquire(id)
	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		l.release(id, c)
	}
}

// TryLock takes id only if nobody holds it.
func (l *chatLocks) TryLock(id string) (func(), bool) {
	c := l.acquire(id)
	if !c.mu.TryLock() {
		l.release(id, c)
		return nil, false
	}
	return func() {
		c.mu.Unlock()
		l.release(id, c)
	}, true
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

package agent

import "sync"

// ThreadLocks serializes turns per thread id. Turns on different
// threads never contend.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu      sync.Mutex
	waiters int
}

// NewThreadLocks returns an empty lock table.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{locks: make(map[string]*threadLock)}
}

// Lock blocks until the caller holds the thread's lock and returns the
// function that releases it. Entries are dropped once no caller holds
// or waits on them.
func (t *ThreadLocks) Lock(threadID string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[threadID]
	if !ok {
		l = &threadLock{}
		t.locks[threadID] = l
	}
	l.waiters++
	t.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			t.mu.Lock()
			l.waiters--
			if l.waiters == 0 {
				delete(t.locks, threadID)
			}
			t.mu.Unlock()
		})
	}
}

// Len returns the number of threads currently locked or waited on.
func (t *ThreadLocks) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

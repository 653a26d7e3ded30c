package generation

import (
	"context"
	"sync"
)

// storyLocks serializes generations per story within this process. Entries
// are reference counted and removed once no caller holds or waits on them.
type storyLocks struct {
	mu    sync.Mutex
	locks map[int64]*storyLock
}

type storyLock struct {
	ch   chan struct{}
	refs int
}

func newStoryLocks() *storyLocks {
	return &storyLocks{locks: make(map[int64]*storyLock)}
}

// acquire blocks until the story's lock is held or ctx is done. The returned
// func releases the lock.
func (l *storyLocks) acquire(ctx context.Context, storyID int64) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[storyID]
	if !ok {
		lock = &storyLock{ch: make(chan struct{}, 1)}
		l.locks[storyID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.release(storyID, lock)
		}, nil
	case <-ctx.Done():
		l.release(storyID, lock)
		return nil, ctx.Err()
	}
}

func (l *storyLocks) release(storyID int64, lock *storyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, storyID)
	}
}

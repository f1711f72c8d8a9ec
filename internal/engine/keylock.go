package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type lockKey struct {
	examID    int64
	studentID string
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// keyLocks hands out one exclusive lock per (exam, student). Entries are
// dropped as soon as nobody holds or waits for them.
type keyLocks struct {
	mu      sync.Mutex
	entries map[lockKey]*lockEntry
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[lockKey]*lockEntry)}
}

// acquire blocks until the lock for key is held or ctx is done.
func (k *keyLocks) acquire(ctx context.Context, key lockKey) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.unref(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.unref(key, e)
		})
	}, nil
}

func (k *keyLocks) unref(key lockKey, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *keyLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

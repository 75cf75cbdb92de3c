package transition

import "sync"

// LockManager maps file path to an in-process mutex. Lock creation is
// guarded by a meta-lock on the map. Entries are never removed: the corpus
// is a closed set, so the map is bounded by corpus size.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks the mutex for path, creating it on first use.
func (lm *LockManager) Acquire(path string) {
	lm.mu.Lock()
	l, ok := lm.locks[path]
	if !ok {
		l = &sync.Mutex{}
		lm.locks[path] = l
	}
	lm.mu.Unlock()

	l.Lock()
}

// Release unlocks the mutex for path. Panics if Acquire was not called
// first; that is a programming error, not a runtime condition.
func (lm *LockManager) Release(path string) {
	lm.mu.Lock()
	l := lm.locks[path]
	lm.mu.Unlock()

	l.Unlock()
}

// Len returns the number of distinct paths ever locked. Used in tests.
func (lm *LockManager) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}

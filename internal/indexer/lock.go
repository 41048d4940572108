package indexer

import (
	"sync"
	"time"
)

// IndexLock admits one full project pass at a time and remembers which
// root holds it
type IndexLock struct {
	mu    sync.Mutex
	held  bool
	root  string
	since time.Time
}

// TryAcquire takes the lock for root without blocking
func (l *IndexLock) TryAcquire(root string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held, l.root, l.since = true, root, time.Now()
	return true
}

// Release frees the lock. Only the caller whose TryAcquire succeeded may
// release it.
func (l *IndexLock) Release() {
	l.mu.Lock()
	l.held, l.root, l.since = false, "", time.Time{}
	l.mu.Unlock()
}

// Holder reports the root of the pass in progress, if any
func (l *IndexLock) Holder() (root string, since time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root, l.since, l.held
}

package costing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ItemLocks serializes mutating operations per item. Operations on distinct
// items proceed in parallel; acquisition waits at most the configured
// timeout and then surfaces ErrLockTimeout instead of deadlocking.
type ItemLocks struct {
	mu      sync.Mutex
	timeout time.Duration
	sems    map[string]*semaphore.Weighted
}

// NewItemLocks constructs the lock set.
func NewItemLocks(timeout time.Duration) *ItemLocks {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ItemLocks{timeout: timeout, sems: make(map[string]*semaphore.Weighted)}
}

func (l *ItemLocks) sem(itemID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[itemID]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[itemID] = s
	}
	return s
}

// Acquire takes the per-item lock and returns its release func.
func (l *ItemLocks) Acquire(ctx context.Context, itemID string) (func(), error) {
	s := l.sem(itemID)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, ErrLockTimeout
	}
	return func() { s.Release(1) }, nil
}

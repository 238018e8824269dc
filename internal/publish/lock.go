package publish

import "sync"

type lockKey struct {
	repoID   int64
	targetID int64
}

// Locks is the per-target publication mutex registry. Holding a target's lock
// serializes artifact swaps so two builds of the same target never interleave
// in the publish step. Single-process deployment is part of the contract.
type Locks struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[lockKey]*sync.Mutex)}
}

// Acquire blocks until the target's publication lock is held and returns the
// release function.
func (l *Locks) Acquire(repoID, targetID int64) func() {
	l.mu.Lock()
	key := lockKey{repoID: repoID, targetID: targetID}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

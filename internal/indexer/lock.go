package indexer

import (
	"errors"
	"sync/atomic"
)

// ErrIndexingInProgress is returned when a run is requested while another is active
var ErrIndexingInProgress = errors.New("indexing already in progress")

// IndexLock is a non-blocking try-lock guarding a single indexing run
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run currently owns the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

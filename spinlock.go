package gvthread

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a short-hold CAS lock used instead of a mutex on paths that
// may run while executing on a task's own raw stack, where a blocking
// syscall (as a mutex can issue under contention) is unsafe: the slot
// allocator's free-id stack and the sleep queue both take this lock.
// Cache-line padded to avoid false sharing with adjacent hot fields,
// matching the padding idiom used by the workerState and fastTaskState
// types.
type spinlock struct { //nolint:govet
	_      [64]byte
	locked atomic.Bool
	_      [63]byte
}

func (l *spinlock) Lock() {
	for !l.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) Unlock() {
	l.locked.Store(false)
}

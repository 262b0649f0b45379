package gvthread

// slotAllocator hands out and reclaims TaskID values with LIFO reuse, so
// a newly spawned task tends to land on a slot whose pages are still
// warm from the previous occupant. The free stack is pre-sized to
// maxTasks at construction; no heap growth ever happens inside
// allocate/release.
//
// Grounded on eventloop/ingress.go's chunkPool/node-pool recycling idea,
// but implemented as a plain bounded slice-backed stack rather than a
// sync.Pool, because sync.Pool gives no capacity bound and no ordering
// guarantee, and this allocator needs both: a hard capacity limit and
// strict LIFO reuse.
type slotAllocator struct {
	mu             spinlock
	free           []TaskID
	total          uint32
	bumpGeneration func(TaskID)
}

func newSlotAllocator(maxTasks uint32, bumpGeneration func(TaskID)) *slotAllocator {
	free := make([]TaskID, maxTasks)
	for i := range free {
		// Descending order so allocate() pops id 0 first.
		free[i] = TaskID(maxTasks - 1 - uint32(i))
	}
	return &slotAllocator{free: free, total: maxTasks, bumpGeneration: bumpGeneration}
}

// allocate pops a free id, or returns ErrCapacityExceeded if none remain.
func (a *slotAllocator) allocate() (TaskID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return NoTask, ErrCapacityExceeded
	}
	id := a.free[n-1]
	a.free = a.free[:n-1]
	return id, nil
}

// release pushes id back onto the free stack for LIFO reuse, bumping the
// slot's generation counter first. The bump must happen here, immediately,
// not deferred to the next allocate/reset: a waiter or timer entry holding
// (id, oldGeneration) needs to see the mismatch the instant the slot is
// freed, not only once it is reallocated to a new task.
func (a *slotAllocator) release(id TaskID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bumpGeneration(id)
	a.free = append(a.free, id)
}

// available reports the current free-slot count, for tests and Stats.
func (a *slotAllocator) available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

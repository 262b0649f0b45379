package gvthread

import "container/heap"

// sleepEntry is one pending wake in the sleep queue. generation is
// captured at schedule time and carried through to the eventual wake()
// call, whose own generation check turns a slot recycled between
// scheduling and expiry into a silent no-op rather than a stale wake.
// Cancellation or a later schedule for the same id never removes an
// entry from the heap; it only unlinks it from byID, leaving it to be
// discovered and dropped as an orphan once popExpired reaches it.
type sleepEntry struct {
	wakeAt     int64 // UnixNano
	id         TaskID
	generation uint32
	index      int // maintained by container/heap
}

// sleepHeap implements container/heap.Interface ordered by wakeAt.
type sleepHeap []*sleepEntry

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wakeAt < h[j].wakeAt }
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *sleepHeap) Push(x interface{}) {
	e := x.(*sleepEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *sleepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// sleepQueue holds tasks parked by sleep_until, ordered by wake time.
// Protected by a spinlock rather than a mutex because the timer
// goroutine and (occasionally) a task about to suspend both touch it on
// a latency-sensitive path.
//
// Grounded on the generation-guard pattern already used by
// slotAllocator.release: a min-heap keyed on deadline is the direct
// generalization of a single-timer wheel to arbitrary wake times.
type sleepQueue struct {
	mu   spinlock
	h    sleepHeap
	byID map[TaskID]*sleepEntry
}

func newSleepQueue() *sleepQueue {
	return &sleepQueue{byID: make(map[TaskID]*sleepEntry)}
}

// schedule adds a pending wake for id at wakeAt, tagged with the slot's
// current generation. If an entry is already registered for id — left
// behind by a cancel whose generation didn't match, or one popExpired
// hasn't reached yet — it is not removed from the heap; byID simply stops
// pointing at it, and popExpired drops it as an orphan for free once its
// own wakeAt elapses.
func (q *sleepQueue) schedule(id TaskID, generation uint32, wakeAt int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := &sleepEntry{wakeAt: wakeAt, id: id, generation: generation}
	heap.Push(&q.h, e)
	q.byID[id] = e
}

// cancel invalidates any pending wake for id, if generation still matches
// the entry that was scheduled. Used when a sleeping task is separately
// woken (e.g. explicit wake()) before its deadline arrives. Invalidation
// is index-only: dropping id from byID, never a heap.Remove. The entry
// stays exactly where it is in the heap; popExpired discovers it is no
// longer the entry byID has on file and silently drops it once its
// wakeAt elapses. This is the generation-guarded, heap-untouched
// cancellation the sleep queue is built around — an id whose entry was
// already superseded or already popped costs this call nothing more than
// one failed map lookup, instead of an O(log n) heap restructuring under
// the same lock the timer goroutine polls through on every tick.
func (q *sleepQueue) cancel(id TaskID, generation uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.byID[id]; ok && e.generation == generation {
		delete(q.byID, id)
	}
}

// nextDeadline returns the wake time of the earliest pending entry, and
// false if the queue is empty. Used by the timer goroutine to size its
// next sleep.
func (q *sleepQueue) nextDeadline() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].wakeAt, true
}

// popExpired removes every entry whose wakeAt is <= now and returns the
// ones still live: an entry is an orphan, and silently dropped instead of
// returned, once byID no longer points at it — cancelled, or superseded
// by a later schedule for the same id, since it was pushed. The caller
// still re-checks generation itself before acting (see wake); popExpired
// does not consult taskMeta, keeping this type free of a dependency on
// the scheduler.
func (q *sleepQueue) popExpired(now int64, dst []sleepEntry) []sleepEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) > 0 && q.h[0].wakeAt <= now {
		e := heap.Pop(&q.h).(*sleepEntry)
		if q.byID[e.id] != e {
			continue
		}
		delete(q.byID, e.id)
		dst = append(dst, *e)
	}
	return dst
}

// len reports the number of live (not cancelled or superseded) pending
// wakes; orphaned heap entries are not counted.
func (q *sleepQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

package gvthread

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// localRingCapacity bounds each worker's private ready ring. Sized the
// same as the Go scheduler's per-P runq: a fixed 256 slots is large
// enough that overflow to the global queue is rare in practice, small
// enough that scanning it for a steal stays cheap.
const localRingCapacity = 256

// globalDrainBatch caps how many items a single drain from the global
// queue moves into a local ring at once, mirroring the fraction-of-global
// batch the Go scheduler's globrunqget refill uses.
const globalDrainBatch = 32

// localRing is a bounded ring of TaskIDs belonging to one worker. The
// owning worker pops from the tail; any goroutine may push onto the tail
// and any worker may steal from the head. Every operation takes mu. This
// head/tail split is the same shape as runq/runqhead/runqtail in the Go
// runtime's per-P structure.
type localRing struct {
	mu   sync.Mutex
	buf  [localRingCapacity]TaskID
	head uint32
	tail uint32
}

// len is only safe to call while holding r.mu; snapshotLen takes the lock
// itself, for external snapshot readers (Stats).
func (r *localRing) len() uint32 {
	return r.tail - r.head
}

func (r *localRing) snapshotLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.len())
}

// pushLocal may be called from any goroutine (the owning worker, a waker,
// or the timer). Returns false if the ring is full, in which case the
// caller falls back to the global queue.
func (r *localRing) pushLocal(id TaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.len() >= localRingCapacity {
		return false
	}
	r.buf[r.tail%localRingCapacity] = id
	r.tail++
	return true
}

// popLocal is called only by the owning worker, taking from the tail
// (LIFO for the owner) so a task that just yielded is likely to be
// re-run while its cache footprint is still warm.
func (r *localRing) popLocal() (TaskID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.len() == 0 {
		return NoTask, false
	}
	r.tail--
	return r.buf[r.tail%localRingCapacity], true
}

// steal takes up to half of the ring's contents from the head (FIFO,
// oldest first) so a thief and the owner rarely race for the same task.
// Returns dst unchanged if there was nothing worth stealing.
func (r *localRing) steal(dst []TaskID) []TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.len()
	if n == 0 {
		return dst
	}
	take := n / 2
	if take == 0 {
		take = 1
	}
	for i := uint32(0); i < take; i++ {
		dst = append(dst, r.buf[r.head%localRingCapacity])
		r.head++
	}
	return dst
}

// globalQueue is the shared overflow FIFO. Workers check it every
// globalCheckEvery pops so a stream of tasks that all land on one
// worker's local ring doesn't starve tasks pushed here directly (e.g.
// by the timer, delivering a woken sleeper) or by an overflowing peer.
type globalQueue struct {
	mu      sync.Mutex
	cond    sync.Cond
	items   []TaskID
	closed  bool
	waiters int

	// lowItems is a second FIFO, sharing this queue's mutex and condition
	// variable instead of a dedicated one, holding tasks spawned or
	// rescheduled at PriorityLow. Only workers a readyQueue marks
	// low-priority ever drain it, so a Low task never runs ahead of
	// higher-priority work simply because every other worker is busy.
	lowItems []TaskID
}

func newGlobalQueue() *globalQueue {
	q := &globalQueue{}
	q.cond.L = &q.mu
	return q
}

func (q *globalQueue) push(id TaskID) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// pushLow enqueues id onto the low-priority sub-queue and wakes at most
// one parked worker, exactly like push does for the normal queue. A
// worker parked in parkAndPop only actually takes the item if it is one
// of the workers a readyQueue marks low-priority; see parkAndPop.
func (q *globalQueue) pushLow(id TaskID) {
	q.mu.Lock()
	q.lowItems = append(q.lowItems, id)
	q.mu.Unlock()
	q.cond.Signal()
}

// tryPopLow is pushLow's counterpart, called only by workers a readyQueue
// marks low-priority.
func (q *globalQueue) tryPopLow() (TaskID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lowItems) == 0 {
		return NoTask, false
	}
	id := q.lowItems[0]
	q.lowItems = q.lowItems[1:]
	return id, true
}

func (q *globalQueue) tryPop() (TaskID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return NoTask, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// popBatchLocked pops up to n items with q.mu already held, returning the
// first item to run immediately and the rest for the caller to disperse
// onto a local ring.
func (q *globalQueue) popBatchLocked(n int) (TaskID, []TaskID) {
	if n > len(q.items) {
		n = len(q.items)
	}
	id := q.items[0]
	var extra []TaskID
	if n > 1 {
		extra = append(extra, q.items[1:n]...)
	}
	q.items = q.items[n:]
	return id, extra
}

// drainBatch pops up to n items in a single lock acquisition, mirroring the
// Go scheduler's globrunqget: the caller runs the first and pushes the rest
// onto its own local ring so the next several pops are cheap local hits
// instead of repeated trips through this queue's lock.
func (q *globalQueue) drainBatch(n int) []TaskID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	id, extra := q.popBatchLocked(n)
	return append([]TaskID{id}, extra...)
}

// wakeOne wakes at most one worker parked in parkAndPop, if any currently
// are. Called after a successful push so a push that lands on a worker's
// own local ring - not the global queue - still reaches a worker parked
// waiting on this condition variable.
func (q *globalQueue) wakeOne() {
	q.mu.Lock()
	parked := q.waiters > 0
	q.mu.Unlock()
	if parked {
		q.cond.Signal()
	}
}

// popWait blocks until an item is available or the queue is closed.
func (q *globalQueue) popWait() (TaskID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.waiters++
		q.cond.Wait()
		q.waiters--
	}
	if len(q.items) == 0 {
		return NoTask, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

func (q *globalQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *globalQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// readyQueue combines one localRing per worker with a shared globalQueue
// and work stealing between rings, mirroring the local-P/global-runq
// split of the Go scheduler generalized to a fixed worker count with no
// preemptive P handoff.
type readyQueue struct {
	locals []*localRing
	global *globalQueue

	// globalCheckEvery controls how often pop() checks the global queue
	// ahead of the local ring, avoiding starvation of globally-queued
	// work when a worker's local ring stays non-empty. 61 mirrors the
	// Go scheduler's own globrunqget check interval.
	globalCheckEvery uint32

	// lowWorkers marks, by worker index, which workers may drain the
	// global queue's low-priority sub-queue. Fixed for the readyQueue's
	// lifetime; set from Config.NumLowPriorityWorkers at construction.
	lowWorkers []bool

	steals atomic.Uint64
}

func newReadyQueue(numWorkers int, lowWorkers []bool) *readyQueue {
	rq := &readyQueue{
		locals:           make([]*localRing, numWorkers),
		global:           newGlobalQueue(),
		globalCheckEvery: 61,
		lowWorkers:       lowWorkers,
	}
	for i := range rq.locals {
		rq.locals[i] = &localRing{}
	}
	return rq
}

// pushLocal enqueues id onto worker w's own ring, spilling to the global
// queue if the ring is full, then wakes at most one parked worker: the
// worker owning the ring if it's the one parked, or otherwise whichever
// worker is parked in parkAndPop and can steal it.
func (rq *readyQueue) pushLocal(w int, id TaskID) {
	if !rq.locals[w].pushLocal(id) {
		rq.global.push(id)
		return
	}
	rq.global.wakeOne()
}

// drainGlobalInto pops a batch from the global queue in one lock
// acquisition, returning the first item for the caller to run immediately
// and pushing the rest onto w's own local ring.
func (rq *readyQueue) drainGlobalInto(w int) (TaskID, bool) {
	batch := rq.global.drainBatch(globalDrainBatch)
	if len(batch) == 0 {
		return NoTask, false
	}
	for _, extra := range batch[1:] {
		rq.pushLocal(w, extra)
	}
	return batch[0], true
}

// pushGlobal enqueues id directly onto the shared queue: used when the
// caller has no natural affinity worker (a freshly spawned task with no
// parent hint, or a sleeper woken by the timer goroutine).
func (rq *readyQueue) pushGlobal(id TaskID) {
	rq.global.push(id)
}

// pushLow enqueues id onto the shared low-priority sub-queue, the only
// place a PriorityLow task is routed while any worker is marked
// low-priority: never to a local ring, so a non-low worker can never pick
// one up merely by being idle. When no worker is marked low-priority, the
// task goes to the ordinary global queue instead.
func (rq *readyQueue) pushLow(id TaskID) {
	for _, low := range rq.lowWorkers {
		if low {
			rq.global.pushLow(id)
			return
		}
	}
	rq.global.push(id)
}

// pop returns the next task for worker w to run: draining a batch from the
// global queue first every globalCheckEvery-th call, then the local ring,
// then another global drain, then a steal attempt from a random peer, and
// finally parking. tick is the worker's own pop counter, threaded in by
// the caller so this stays allocation-free.
func (rq *readyQueue) pop(w int, tick uint32) (TaskID, bool) {
	if tick%rq.globalCheckEvery == 0 {
		if id, ok := rq.drainGlobalInto(w); ok {
			return id, true
		}
	}
	if id, ok := rq.locals[w].popLocal(); ok {
		return id, true
	}
	if id, ok := rq.drainGlobalInto(w); ok {
		return id, true
	}
	if rq.lowWorkers[w] {
		if id, ok := rq.global.tryPopLow(); ok {
			return id, true
		}
	}
	if id, ok := rq.trySteal(w); ok {
		return id, true
	}
	return rq.parkAndPop(w)
}

// parkAndPop is pop's last resort once the local ring, a global drain, and
// a steal attempt have all come up empty. It parks on the global queue's
// condition variable and, on every wake, rechecks the local ring and
// attempts a steal before parking again: pushLocal's wake-one-parked-worker
// call signals this same condition variable even when the item it pushed
// landed on a worker's own ring rather than the global queue, so a wake
// that only rechecked the global queue would silently miss it.
func (rq *readyQueue) parkAndPop(w int) (TaskID, bool) {
	g := rq.global
	low := rq.lowWorkers[w]
	g.mu.Lock()
	for {
		if len(g.items) != 0 {
			id, extra := g.popBatchLocked(globalDrainBatch)
			g.mu.Unlock()
			for _, e := range extra {
				rq.pushLocal(w, e)
			}
			return id, true
		}
		if low && len(g.lowItems) != 0 {
			id := g.lowItems[0]
			g.lowItems = g.lowItems[1:]
			g.mu.Unlock()
			return id, true
		}
		if g.closed {
			g.mu.Unlock()
			return NoTask, false
		}
		g.waiters++
		g.cond.Wait()
		g.waiters--
		g.mu.Unlock()
		if id, ok := rq.locals[w].popLocal(); ok {
			return id, true
		}
		if low {
			if id, ok := rq.global.tryPopLow(); ok {
				return id, true
			}
		}
		if id, ok := rq.trySteal(w); ok {
			return id, true
		}
		g.mu.Lock()
	}
}

// trySteal picks one random peer ring and takes half of its contents
// into w's own ring, then pops one. A single random victim (rather than
// scanning every peer) keeps steal attempts O(1) and avoids thundering
// herds when many workers go idle at once.
func (rq *readyQueue) trySteal(w int) (TaskID, bool) {
	n := len(rq.locals)
	if n < 2 {
		return NoTask, false
	}
	victim := rand.IntN(n - 1)
	if victim >= w {
		victim++
	}
	var buf [localRingCapacity / 2]TaskID
	stolen := rq.locals[victim].steal(buf[:0])
	if len(stolen) == 0 {
		return NoTask, false
	}
	rq.steals.Add(1)
	id := stolen[0]
	for _, extra := range stolen[1:] {
		rq.pushLocal(w, extra)
	}
	return id, true
}

// close unblocks every worker parked in parkAndPop (or a direct popWait),
// used during shutdown so idle workers observe termination instead of
// blocking forever on an empty queue.
func (rq *readyQueue) close() {
	rq.global.close()
}

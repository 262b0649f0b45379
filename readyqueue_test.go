package gvthread

import (
	"runtime"
	"testing"
	"time"
)

func TestLocalRingPushPopLIFO(t *testing.T) {
	r := &localRing{}
	if !r.pushLocal(TaskID(1)) {
		t.Fatal("pushLocal(1) should succeed on an empty ring")
	}
	if !r.pushLocal(TaskID(2)) {
		t.Fatal("pushLocal(2) should succeed")
	}
	id, ok := r.popLocal()
	if !ok || id != TaskID(2) {
		t.Fatalf("popLocal() = (%d, %v), want (2, true) — owner pop is LIFO", id, ok)
	}
	id, ok = r.popLocal()
	if !ok || id != TaskID(1) {
		t.Fatalf("popLocal() = (%d, %v), want (1, true)", id, ok)
	}
	if _, ok := r.popLocal(); ok {
		t.Fatal("popLocal on an empty ring must report false")
	}
}

func TestLocalRingOverflow(t *testing.T) {
	r := &localRing{}
	for i := 0; i < localRingCapacity; i++ {
		if !r.pushLocal(TaskID(i)) {
			t.Fatalf("pushLocal(%d) failed before reaching capacity", i)
		}
	}
	if r.pushLocal(TaskID(999)) {
		t.Fatal("pushLocal should fail once the ring is at capacity")
	}
}

func TestLocalRingSteal(t *testing.T) {
	r := &localRing{}
	for i := 0; i < 10; i++ {
		r.pushLocal(TaskID(i))
	}
	stolen := r.steal(nil)
	if len(stolen) != 5 {
		t.Fatalf("steal() returned %d ids, want half of 10", len(stolen))
	}
	// steal takes from the head (oldest first): 0..4.
	for i, id := range stolen {
		if id != TaskID(i) {
			t.Errorf("stolen[%d] = %d, want %d", i, id, i)
		}
	}
	if got := r.snapshotLen(); got != 5 {
		t.Fatalf("ring len after steal = %d, want 5 remaining", got)
	}
}

func TestGlobalQueueFIFO(t *testing.T) {
	q := newGlobalQueue()
	q.push(TaskID(1))
	q.push(TaskID(2))
	id, ok := q.tryPop()
	if !ok || id != TaskID(1) {
		t.Fatalf("tryPop() = (%d, %v), want (1, true)", id, ok)
	}
	if got := q.depth(); got != 1 {
		t.Fatalf("depth() = %d, want 1", got)
	}
}

func TestGlobalQueueCloseUnblocksPopWait(t *testing.T) {
	q := newGlobalQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.popWait(); ok {
			t.Error("popWait after close with no items must report false")
		}
	}()
	q.close()
	<-done
}

func TestReadyQueuePopPrefersLocalThenSteals(t *testing.T) {
	rq := newReadyQueue(2, []bool{false, false})
	rq.pushLocal(1, TaskID(42))

	id, ok := rq.pop(0, 1) // tick=1 skips the every-61st global check
	if !ok || id != TaskID(42) {
		t.Fatalf("worker 0 should steal id 42 from worker 1's ring; got (%d, %v)", id, ok)
	}
	if got := rq.steals.Load(); got != 1 {
		t.Fatalf("steals counter = %d, want 1", got)
	}
}

func TestReadyQueuePushLocalSpillsToGlobal(t *testing.T) {
	rq := newReadyQueue(1, []bool{false})
	for i := 0; i < localRingCapacity; i++ {
		rq.pushLocal(0, TaskID(i))
	}
	rq.pushLocal(0, TaskID(9999))
	if got := rq.global.depth(); got != 1 {
		t.Fatalf("global depth after overflow = %d, want 1", got)
	}
}

// TestReadyQueuePopDrainsGlobalBatchIntoLocalRing exercises the batch move
// pop's global-miss fallback performs: rather than returning one id and
// leaving the rest on the global queue, it should move a whole batch onto
// the local ring in one go.
func TestReadyQueuePopDrainsGlobalBatchIntoLocalRing(t *testing.T) {
	rq := newReadyQueue(1, []bool{false})
	const n = 5
	for i := 0; i < n; i++ {
		rq.pushGlobal(TaskID(i))
	}

	// tick=1 skips the every-61st periodic check, so this exercises the
	// local-ring-miss fallback drain specifically.
	id, ok := rq.pop(0, 1)
	if !ok || id != TaskID(0) {
		t.Fatalf("pop() = (%d, %v), want (0, true) — oldest global item first", id, ok)
	}
	if got := rq.global.depth(); got != 0 {
		t.Fatalf("global depth after drain = %d, want 0 (rest should have moved to the local ring)", got)
	}
	if got := rq.locals[0].snapshotLen(); got != n-1 {
		t.Fatalf("local ring len after drain = %d, want %d", got, n-1)
	}
}

// TestReadyQueuePushLocalWakesParkedWorker checks pushLocal's wake contract:
// a worker parked in parkAndPop must be woken by a push that lands on its
// own local ring, not just by a push straight onto the global queue. This
// is the scenario that would deadlock if pushLocal only pushed without
// ever signaling parkAndPop's condition variable.
func TestReadyQueuePushLocalWakesParkedWorker(t *testing.T) {
	rq := newReadyQueue(1, []bool{false})
	done := make(chan TaskID, 1)
	go func() {
		id, ok := rq.parkAndPop(0)
		if !ok {
			return
		}
		done <- id
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		rq.global.mu.Lock()
		waiting := rq.global.waiters > 0
		rq.global.mu.Unlock()
		if waiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("parkAndPop never reached cond.Wait")
		}
		runtime.Gosched()
	}

	rq.pushLocal(0, TaskID(7))

	select {
	case id := <-done:
		if id != TaskID(7) {
			t.Fatalf("parkAndPop returned %d, want 7", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parkAndPop never observed the pushLocal wake")
	}
}

// TestReadyQueueLowPriorityOnlyDrainedByLowWorker checks the pop-time
// restriction a low-priority pool exists to enforce: a task pushed onto
// the low-priority sub-queue is left untouched by a worker pop() does not
// mark low-priority, even when that worker has nothing else to do besides
// go looking for work.
func TestReadyQueueLowPriorityOnlyDrainedByLowWorker(t *testing.T) {
	rq := newReadyQueue(2, []bool{false, true})
	rq.pushLow(TaskID(5))
	rq.pushGlobal(TaskID(9))

	id, ok := rq.pop(0, 1) // tick=1 skips the every-61st global check
	if !ok || id != TaskID(9) {
		t.Fatalf("non-low worker 0 pop() = (%d, %v), want (9, true) — it must skip the low-priority queue entirely", id, ok)
	}

	lowID, ok := rq.global.tryPopLow()
	if !ok || lowID != TaskID(5) {
		t.Fatalf("low-priority task should still be sitting untouched in the low queue; tryPopLow() = (%d, %v)", lowID, ok)
	}
}

// TestReadyQueueLowPriorityWorkerDrainsLowQueue confirms the other half of
// the restriction: a worker pop() does mark low-priority can pick up a
// PriorityLow task.
func TestReadyQueueLowPriorityWorkerDrainsLowQueue(t *testing.T) {
	rq := newReadyQueue(1, []bool{true})
	rq.pushLow(TaskID(5))

	id, ok := rq.pop(0, 1)
	if !ok || id != TaskID(5) {
		t.Fatalf("pop() = (%d, %v), want (5, true)", id, ok)
	}
}

// TestReadyQueueLowPriorityWorkerStillRunsNormalWork confirms a
// low-priority worker is not exiled to the low queue alone: it still
// drains ordinary work exactly like any other worker when there's no
// low-priority task waiting.
func TestReadyQueueLowPriorityWorkerStillRunsNormalWork(t *testing.T) {
	rq := newReadyQueue(1, []bool{true})
	rq.pushGlobal(TaskID(3))

	id, ok := rq.pop(0, 1)
	if !ok || id != TaskID(3) {
		t.Fatalf("pop() = (%d, %v), want (3, true)", id, ok)
	}
}

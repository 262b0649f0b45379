package gvthread

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// workerState is the introspectable, cache-line padded record of one
// worker's live status: the timer reads it to detect stalls, Stats()
// reads it for a snapshot, and the owning worker writes it, except for
// preemptMarkedAt, which the timer also sets when it marks a stall.
// Padding avoids false sharing between adjacent workers' counters, the
// same discipline applied to spinlock and fastTaskState.
type workerState struct { //nolint:govet
	_ [64]byte

	// current is the TaskID this worker last switched into, or NoTask. It
	// is reset to NoTask only when that task finishes; after a yield,
	// block or sleep it keeps the old id until the next task runs.
	current atomic.Uint32
	// activity is bumped by every safepoint check and by the scheduler
	// on every switch; the timer compares successive reads to detect a
	// task that has stopped reaching safepoints.
	activity atomic.Uint64
	// tid is the Linux thread id (unix.Gettid), valid once the worker's
	// goroutine has called runtime.LockOSThread and recorded it.
	tid atomic.Int32
	// parked reports whether the worker is looking for work (it is set
	// for the whole of worker.pop, local spins included), so the timer
	// does not mistake an idle worker for a stalled one.
	parked atomic.Bool
	// lowPriority marks a worker reserved for PriorityLow tasks.
	lowPriority bool
	// preemptMarkedAt holds the UnixNano at which the timer set this
	// worker's current task's preempt flag, 0 if not pending. Used to
	// decide when the grace period has elapsed and a signal is due.
	preemptMarkedAt atomic.Int64
	// curMeta is the taskMeta currently switched onto this worker's
	// thread, read by currentWorker()'s callers (Safepoint, CurrentID,
	// yieldNow, and friends) and by the forced-preemption path.
	curMeta atomic.Pointer[taskMeta]

	_ [8]byte
}

func newWorkerState(lowPriority bool) *workerState {
	w := &workerState{lowPriority: lowPriority}
	w.current.Store(uint32(NoTask))
	w.tid.Store(0)
	return w
}

// worker runs the fixed pop -> run -> handle-outcome loop on a
// LockOSThread-pinned goroutine, the idiomatic substitute for the raw
// pthread_create the original source uses: Go does not expose bare OS
// thread creation, and pinning a goroutine for its lifetime gives the
// same stable, signal-targetable kernel thread id.
type worker struct {
	id    int
	state *workerState
	rt    *Runtime

	// resumePoint is the worker loop's own saved register set,
	// captured by switchIn's call into gvthreadSwitch; a task-stack
	// helper (yieldNow, blockCurrent, sleepUntil, finishCurrent) or
	// asyncPreemptResume jumps back to it to hand control back here.
	resumePoint voluntaryRegs
	// savedStackLo/Hi/Guard hold this worker's own goroutine stack
	// bounds while a task is switched in, so the task-stack helpers can
	// restore them before switching back.
	savedStackLo, savedStackHi, savedStackGuard uintptr
	// pendingOutcome is set by whichever helper just switched control
	// back to this worker, and read once switchIn resumes.
	pendingOutcome taskOutcome
}

func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	tid := int32(unix.Gettid())
	w.state.tid.Store(tid)
	registerPreemptSlot(w.id, tid, w)

	rt := w.rt
	rt.logger().Log(Event{Level: LevelDebug, Category: "worker", WorkerID: int32(w.id), Message: "started"})

	var tick uint32
	for {
		if rt.stopping.Load() {
			return
		}
		if rt.hooks.beforePark != nil {
			rt.hooks.beforePark(w.id)
		}
		w.state.parked.Store(true)
		id, ok := w.pop(tick)
		w.state.parked.Store(false)
		if rt.hooks.afterPark != nil {
			rt.hooks.afterPark(w.id)
		}
		tick++
		if !ok {
			// Ready queue closed: shutdown.
			return
		}
		w.runTask(id)
	}
}

// pop retries the local ring briefly before falling through to the
// blocking global wait, mirroring the check-then-wait shape of a futex
// park: most of the time a task shows up within a few spins and the
// worker never pays the cost of a condition variable wait.
func (w *worker) pop(tick uint32) (TaskID, bool) {
	rq := w.rt.ready
	for spin := 0; spin < 4; spin++ {
		if id, ok := rq.locals[w.id].popLocal(); ok {
			return id, true
		}
		if spin > 0 {
			runtime.Gosched()
		}
	}
	return rq.pop(w.id, tick)
}

func (w *worker) runTask(id TaskID) {
	rt := w.rt
	meta := rt.metaFor(id)
	generation := meta.generation.Load()

	if !meta.state.TryTransition(StateReady, StateRunning) {
		// Stale or already handled elsewhere; drop it silently.
		return
	}
	meta.workerID.Store(int32(w.id))
	w.state.current.Store(uint32(id))
	w.state.activity.Add(1)
	w.state.preemptMarkedAt.Store(0)

	rt.logger().Log(Event{Level: LevelDebug, Category: "run", TaskID: id, WorkerID: int32(w.id), Generation: generation})

	outcome := w.switchIn(meta)

	// meta.workerID and w.state.current stay put across the switch: wake()
	// and enqueueReady's affinity branch both read meta.workerID to
	// re-target the worker a blocked or sleeping task last ran on, so
	// clearing it here (before either has a chance to look) would make
	// that branch permanently unreachable. Only the Finished case, which
	// releases the slot outright, clears it.
	switch outcome {
	case outcomeYielded:
		meta.state.Store(StateReady)
		rt.enqueueReady(id, w.id)
	case outcomePreempted:
		meta.state.Store(StatePreempted)
		rt.stats.forcedPreempts.Add(1)
		if rt.hooks.onPreempted != nil {
			rt.hooks.onPreempted(id)
		}
		meta.state.Store(StateReady)
		// Unlike a cooperative yield, a forced eviction goes to the back
		// of the global queue rather than this worker's own local ring:
		// the task ignored its fair share of the CPU, so anything already
		// waiting (possibly on this very worker, if it's the only one)
		// gets priority over letting the offender run again immediately.
		// A Low task still only ever lands in the low-priority sub-queue,
		// the same restriction enqueueReady enforces for every other
		// transition.
		if meta.priority == PriorityLow {
			rt.ready.pushLow(id)
		} else {
			rt.ready.pushGlobal(id)
		}
	case outcomeBlocked:
		meta.state.Store(StateBlocked)
		// The blocker is responsible for calling wake(); nothing more
		// to do here.
	case outcomeSleeping:
		wakeAt := meta.wakeAt.Load()
		meta.state.Store(StateSleeping)
		rt.sleepQ.schedule(id, generation, wakeAt)
	case outcomeFinished:
		w.state.current.Store(uint32(NoTask))
		meta.workerID.Store(-1)
		rt.finishTask(id, meta, generation)
	}
}

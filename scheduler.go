package gvthread

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// taskOutcome is why a task's most recent time on the CPU ended. It is
// communicated from a task-stack helper (yieldNow, blockCurrent,
// sleepUntil, finishCurrent) or from asyncPreemptResume back to the
// worker loop purely via a plain field on *worker: producer and consumer
// run on the same OS thread, just different stacks, so there is never
// concurrent access to synchronize.
type taskOutcome uint8

const (
	outcomeYielded taskOutcome = iota
	outcomeBlocked
	outcomeSleeping
	outcomePreempted
	outcomeFinished
)

// stackRedZone is the headroom left between stackguard0 and the true
// bottom of a task's stack once its bounds are published to the Go
// runtime, mirroring the runtime's own default stack guard margin.
const stackRedZone = 1024

// Runtime is a userspace M:N scheduler: a fixed pool of worker OS
// threads (goroutines pinned via runtime.LockOSThread) running tasks
// that live on individually mmap'd stacks, switched with hand-written
// amd64 assembly at well-defined suspension points.
type Runtime struct {
	cfg *Config

	region *Region
	alloc  *slotAllocator
	metas  []*taskMeta

	ready  *readyQueue
	sleepQ *sleepQueue
	timer  *timerLoop

	workers  []*worker
	stopping atomic.Bool
	running  atomic.Bool
	wg       sync.WaitGroup

	stats stats

	entryDone chan taskResult
	hooks     runtimeTestHooks
}

// runtimeTestHooks lets tests observe internal transitions without
// sleeping or racing on timing. All fields are optional; the zero value
// (all nils) is what production code gets.
type runtimeTestHooks struct {
	beforePark     func(workerID int)
	afterPark      func(workerID int)
	beforeSwitchIn func(id TaskID)
	onPreempted    func(id TaskID)
}

// New builds a Runtime from the given options but does not start any
// workers; Start (called by BlockOn) does that.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	region, err := NewRegion(cfg.SlotSize, cfg.MaxTasks)
	if err != nil {
		return nil, err
	}
	metas := make([]*taskMeta, cfg.MaxTasks)
	for i := range metas {
		metas[i] = newTaskMeta(TaskID(i))
	}
	// lowPrio marks the last NumLowPriorityWorkers workers as the only ones
	// permitted to drain PriorityLow tasks; shared verbatim with the ready
	// queue so its pop-time check and each worker's own flag never drift
	// apart.
	lowPrio := make([]bool, cfg.NumWorkers)
	for i := range lowPrio {
		lowPrio[i] = i >= cfg.NumWorkers-cfg.NumLowPriorityWorkers
	}
	rt := &Runtime{
		cfg:       cfg,
		region:    region,
		metas:     metas,
		ready:     newReadyQueue(cfg.NumWorkers, lowPrio),
		sleepQ:    newSleepQueue(),
		entryDone: make(chan taskResult, 1),
	}
	rt.alloc = newSlotAllocator(cfg.MaxTasks, func(id TaskID) { metas[id].generation.Add(1) })
	rt.workers = make([]*worker, cfg.NumWorkers)
	for i := range rt.workers {
		rt.workers[i] = &worker{id: i, state: newWorkerState(lowPrio[i]), rt: rt}
	}
	rt.timer = newTimerLoop(rt)
	return rt, nil
}

func (rt *Runtime) logger() Logger { return rt.cfg.Logger }

func (rt *Runtime) metaFor(id TaskID) *taskMeta {
	if uint32(id) >= uint32(len(rt.metas)) {
		invalidID(id)
	}
	return rt.metas[id]
}

// Start launches the worker pool, the timer goroutine, and (if enabled)
// installs the forced-preemption signal handler. It does not block.
func (rt *Runtime) Start() error {
	if rt.cfg.EnableForcedPreempt {
		if err := installPreemptHandler(); err != nil {
			rt.cfg.EnableForcedPreempt = false
			rt.logger().Log(Event{Level: LevelWarn, Category: "preempt", Message: "forced preemption disabled", Err: err})
		}
	}
	for _, w := range rt.workers {
		rt.wg.Add(1)
		go func(w *worker) {
			defer rt.wg.Done()
			w.run()
		}(w)
	}
	go rt.timer.run()
	return nil
}

// SpawnDefault is Spawn with PriorityNormal, covering the common case
// where callers don't need priority control.
func (rt *Runtime) SpawnDefault(entry func()) (*Handle, error) {
	return rt.Spawn(PriorityNormal, entry)
}

// Spawn allocates a slot, primes the task's stack, and enqueues it as
// Ready. It returns ErrShutdownInProgress if Shutdown has already been
// requested, and ErrCapacityExceeded if MaxTasks concurrently live tasks
// are already active.
func (rt *Runtime) Spawn(priority Priority, entry func()) (*Handle, error) {
	if rt.stopping.Load() {
		return nil, ErrShutdownInProgress
	}
	id, err := rt.alloc.allocate()
	if err != nil {
		return nil, err
	}
	if err := rt.region.Activate(id); err != nil {
		rt.alloc.release(id)
		return nil, err
	}
	meta := rt.metaFor(id)
	parent := CurrentID()
	meta.reset(priority, parent, entry)
	lo, hi := rt.region.StackBounds(id)
	meta.stackLo, meta.stackHi = lo, hi
	meta.voluntary = primeInitialStack(hi)

	meta.state.Store(StateReady)
	rt.logger().Log(Event{Level: LevelDebug, Category: "spawn", TaskID: id, Generation: meta.generation.Load()})

	// A spawn made from inside another task lands on that task's own
	// worker's local ring, so short-lived children run cache-warm
	// alongside their parent; a spawn made from outside any task (e.g.
	// BlockOn's entry task) has no such affinity and goes to the global
	// queue for whichever worker is idle first.
	if w := currentWorker(); w != nil {
		rt.enqueueReady(id, w.id)
	} else {
		rt.enqueueReady(id)
	}

	return &Handle{rt: rt, id: id, generation: meta.generation.Load()}, nil
}

func (rt *Runtime) enqueueReady(id TaskID, hint ...int) {
	meta := rt.metaFor(id)
	if meta.priority == PriorityLow {
		// Routed to the dedicated low-priority sub-queue regardless of
		// worker affinity: a Low task resuming on the worker it last ran
		// on would land on that worker's local ring, which any worker
		// (low-priority or not) can pop from, defeating the restriction.
		rt.ready.pushLow(id)
		return
	}
	if w := meta.workerID.Load(); w >= 0 {
		rt.ready.pushLocal(int(w), id)
		return
	}
	if len(hint) > 0 && hint[0] >= 0 {
		rt.ready.pushLocal(hint[0], id)
		return
	}
	rt.ready.pushGlobal(id)
}

// switchIn hands the CPU to meta's task, publishing its stack bounds to
// the runtime and its identity to the forced-preemption registry first,
// and returns only once the task has yielded, blocked, gone to sleep,
// been preempted, or finished.
func (w *worker) switchIn(meta *taskMeta) taskOutcome {
	if w.rt.hooks.beforeSwitchIn != nil {
		w.rt.hooks.beforeSwitchIn(meta.id)
	}
	w.state.curMeta.Store(meta)
	setPreemptTarget(w.id, meta)
	w.state.activity.Add(1)

	w.savedStackLo, w.savedStackHi, w.savedStackGuard = swapGStack(meta.stackLo, meta.stackHi, meta.stackLo+stackRedZone)
	if meta.needsForcedRestore {
		// This slot was last suspended by a forced-preemption signal, not
		// a voluntary switch: meta.voluntary holds nothing usable (the
		// task never called gvthreadSwitch itself), and only a full
		// register restore from meta.forced can resume it correctly.
		meta.needsForcedRestore = false
		gvthreadSwitchForced(&w.resumePoint, &meta.forced)
	} else {
		gvthreadSwitch(&w.resumePoint, &meta.voluntary)
	}
	// Resumes here once the task (or asyncPreemptResume, on its behalf)
	// switches back. Bounds were already restored by whichever of them
	// initiated the switch back to us.

	setPreemptTarget(w.id, nil)
	w.state.curMeta.Store(nil)
	return w.pendingOutcome
}

// YieldNow cooperatively gives up the CPU; the calling task is
// re-enqueued as Ready and may resume on any worker. A no-op if the
// calling goroutine is not running as a gvthread task.
func YieldNow() {
	if currentWorker() == nil {
		return
	}
	yieldNow()
}

// Sleep parks the calling task until at least wakeAt, without occupying
// a worker in the meantime. A no-op if the calling goroutine is not
// running as a gvthread task.
func Sleep(wakeAt time.Time) {
	if currentWorker() == nil {
		return
	}
	sleepUntil(wakeAt)
}

// BlockCurrent parks the calling task until a matching Wake call. This
// is the low-level hook an external I/O bridge uses; ordinary task code
// should prefer Handle.Wait or Sleep.
func BlockCurrent() {
	if currentWorker() == nil {
		return
	}
	blockCurrent()
}

// Wake transitions id from Blocked or Sleeping back to Ready. Safe to
// call from any goroutine.
func (rt *Runtime) Wake(id TaskID, generation uint32) { rt.wake(id, generation) }

// yieldNow is the task-side half of a cooperative yield: it hands
// control back to the worker loop and marks this task Ready again, to be
// popped and resumed later, possibly by a different worker.
func yieldNow() {
	w := currentWorker()
	meta := w.state.curMeta.Load()
	w.pendingOutcome = outcomeYielded
	swapGStack(w.savedStackLo, w.savedStackHi, w.savedStackGuard)
	gvthreadSwitch(&meta.voluntary, &w.resumePoint)
}

// blockCurrent hands control back to the worker loop and marks this task
// Blocked; nothing runs it again until a matching wake(id) call.
func blockCurrent() {
	w := currentWorker()
	meta := w.state.curMeta.Load()
	w.pendingOutcome = outcomeBlocked
	swapGStack(w.savedStackLo, w.savedStackHi, w.savedStackGuard)
	gvthreadSwitch(&meta.voluntary, &w.resumePoint)
}

// sleepUntil hands control back to the worker loop, recording wakeAt so
// the caller's runTask enrolls this task in the sleep queue.
func sleepUntil(wakeAt time.Time) {
	w := currentWorker()
	meta := w.state.curMeta.Load()
	meta.wakeAt.Store(wakeAt.UnixNano())
	w.pendingOutcome = outcomeSleeping
	swapGStack(w.savedStackLo, w.savedStackHi, w.savedStackGuard)
	gvthreadSwitch(&meta.voluntary, &w.resumePoint)
}

// finishCurrent hands control back to the worker loop for the last time;
// the worker's caller (runTask) reclaims the slot.
func finishCurrent(w *worker, meta *taskMeta) {
	w.pendingOutcome = outcomeFinished
	swapGStack(w.savedStackLo, w.savedStackHi, w.savedStackGuard)
	gvthreadSwitch(&meta.voluntary, &w.resumePoint)
}

// wake transitions id from Blocked or Sleeping back to Ready, guarded by
// generation so a wake racing a slot's reuse is a silent no-op. Safe to
// call from any goroutine, including ordinary (non-task) code bridging
// external I/O completion back into the runtime.
func (rt *Runtime) wake(id TaskID, generation uint32) {
	meta := rt.metaFor(id)
	if meta.generation.Load() != generation {
		return
	}
	rt.sleepQ.cancel(id, generation)
	if !meta.state.TryTransition(StateBlocked, StateReady) {
		if !meta.state.TryTransition(StateSleeping, StateReady) {
			return
		}
	}
	rt.enqueueReady(id)
}

// finishTask reclaims id's slot: deactivates its memory, notifies join
// waiters, and returns the slot to the allocator, which bumps the slot's
// generation as part of release. generation is the value observed when
// the task started running, used only for the log line below.
func (rt *Runtime) finishTask(id TaskID, meta *taskMeta, generation uint32) {
	meta.state.Store(StateFinished)
	if waiters := meta.waiters.Swap(nil); waiters != nil {
		for wl := waiters; wl != nil; wl = wl.next {
			close(wl.ch)
		}
	}
	if id == rt.entryTaskID() {
		if r := meta.result.Load(); r != nil {
			rt.entryDone <- *r
		} else {
			rt.entryDone <- taskResult{}
		}
	}
	if err := rt.region.Deactivate(id); err != nil {
		rt.logger().Log(Event{Level: LevelError, Category: "region", TaskID: id, Err: err})
	}
	rt.logger().Log(Event{Level: LevelDebug, Category: "finish", TaskID: id, Generation: generation})
	rt.alloc.release(id)
}

var entryTaskSentinel atomic.Uint32

func (rt *Runtime) entryTaskID() TaskID { return TaskID(entryTaskSentinel.Load()) }

// BlockOn spawns entry as the runtime's entry task, starts the worker
// pool and timer, blocks the calling goroutine until entry (and
// everything it transitively spawned that the caller awaited) has
// finished, and returns entry's result. Only one BlockOn may be active
// on a Runtime at a time.
func (rt *Runtime) BlockOn(ctx context.Context, entry func() (any, error)) (any, error) {
	if !rt.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	var result taskResult
	h, err := rt.Spawn(PriorityNormal, func() {
		v, err := entry()
		result = taskResult{value: v, err: err}
	})
	if err != nil {
		return nil, err
	}
	entryTaskSentinel.Store(uint32(h.id))
	if err := rt.Start(); err != nil {
		return nil, err
	}
	select {
	case r := <-rt.entryDone:
		rt.Shutdown()
		if r.err != nil {
			return r.value, r.err
		}
		return result.value, result.err
	case <-ctx.Done():
		rt.Shutdown()
		return nil, ctx.Err()
	}
}

// Shutdown requests termination: no further Spawn calls succeed, and
// every worker exits once its ready queue observes the close.
func (rt *Runtime) Shutdown() {
	if !rt.stopping.CompareAndSwap(false, true) {
		return
	}
	rt.ready.close()
	rt.timer.stop()
	rt.wg.Wait()
	if err := rt.region.Close(); err != nil {
		rt.logger().Log(Event{Level: LevelError, Category: "region", Message: "close", Err: err})
	}
}

// Safepoint is the cooperative check tasks are expected to call
// periodically (or which is inserted automatically at loop back-edges by
// higher-level helpers this package doesn't provide). It bumps the
// calling worker's activity counter and, if this task has been marked
// for preemption by the timer, yields immediately rather than waiting
// for a forced signal.
func Safepoint() {
	w := currentWorker()
	if w == nil {
		return // not running on a gvthread worker; a no-op for plain goroutines
	}
	w.state.activity.Add(1)
	meta := w.state.curMeta.Load()
	if meta != nil && meta.preempt.CompareAndSwap(true, false) {
		yieldNow()
	}
}

// CurrentID returns the calling task's id, or NoTask if not running on a
// gvthread worker.
func CurrentID() TaskID {
	w := currentWorker()
	if w == nil {
		return NoTask
	}
	if meta := w.state.curMeta.Load(); meta != nil {
		return meta.id
	}
	return NoTask
}

// IsInTask reports whether the calling goroutine is currently executing
// as a gvthread task.
func IsInTask() bool { return CurrentID() != NoTask }

// CurrentCancel returns a zero-allocation Cancel view over the calling
// task's own cancellation flag, or NeverCancel if not running on a
// gvthread worker.
func CurrentCancel() Cancel {
	w := currentWorker()
	if w == nil {
		return NeverCancel()
	}
	meta := w.state.curMeta.Load()
	if meta == nil {
		return NeverCancel()
	}
	return taskCancel(meta)
}

// CancelTask marks id cancelled. It does not itself interrupt a running
// task; conventionally, code should check its own Cancel via
// CurrentCancel at safepoints and unwind on its own.
func (rt *Runtime) CancelTask(id TaskID) {
	rt.metaFor(id).cancelled.Store(true)
}

// stats accumulates counters read by Runtime.Stats. Steal counts live on
// readyQueue itself, next to the rings they're stolen from.
type stats struct {
	forcedPreempts      atomic.Uint64
	cooperativePreempts atomic.Uint64
}

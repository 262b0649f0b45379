package gvthread

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// preemptSignal is the dedicated real-time signal used to force a stalled
// task off the CPU. The Go runtime already reserves SIGURG for its own
// asynchronous goroutine preemption (see runtime/preempt.go's preemptM);
// reusing it here would race the Go scheduler's own signal handler, so a
// distinct real-time signal is used instead: the value unix.SIGRTMIN()
// reports, with no further offset added.
var preemptSignal = unix.SIGRTMIN() + 0

// maxPreemptSlots bounds how many workers can participate in forced
// preemption. A worker beyond this count still runs correctly; it simply
// never receives a forced-preemption signal, degrading to cooperative
// preemption only for that worker; enable_forced_preempt=false has the
// same effect for every worker.
const maxPreemptSlots = 1024

// preemptSlot pairs a worker's kernel thread id with an atomic pointer to
// the taskMeta it is currently running, so the signal handler — which
// only knows the interrupted thread's own tid, discovered via a raw
// gettid syscall in preempt_amd64.s — can find the right taskMeta without
// taking a lock or touching the Go allocator.
type preemptSlot struct {
	tid  atomic.Int32
	meta atomic.Pointer[taskMeta]
}

var preemptSlots [maxPreemptSlots]preemptSlot

// workerRegistry maps a worker id to its *worker, so currentWorker can
// turn a bare tid (all a signal-context or a task-stack helper has) back
// into the Go-level worker object. Written once per slot at worker
// startup, read-only for the rest of the runtime's lifetime.
var workerRegistry [maxPreemptSlots]atomic.Pointer[worker]

// registeredSlotCount is a monotonic high-water mark on how many of
// preemptSlots are actually in use, bumped once by registerPreemptSlot
// per worker at startup. currentWorker and findPreemptSlotByTid scan only
// up to this count instead of the full fixed-size array: both run on the
// hottest paths in the runtime (every Safepoint, YieldNow, CurrentID, and
// the signal handler itself), where a real deployment's NumWorkers is
// almost always a small fraction of maxPreemptSlots. Neither function has
// a *Runtime to consult — findPreemptSlotByTid in particular runs from a
// raw signal context with nothing but a tid — so a package-level counter
// takes the place of threading cfg.NumWorkers through.
var registeredSlotCount atomic.Int32

// registerPreemptSlot records worker id's kernel thread id and its
// *worker once, at worker startup. Called exactly once per worker for
// the runtime's lifetime.
func registerPreemptSlot(id int, tid int32, w *worker) {
	if id < 0 || id >= maxPreemptSlots {
		return
	}
	preemptSlots[id].tid.Store(tid)
	workerRegistry[id].Store(w)
	for {
		cur := registeredSlotCount.Load()
		if int32(id+1) <= cur {
			return
		}
		if registeredSlotCount.CompareAndSwap(cur, int32(id+1)) {
			return
		}
	}
}

// currentWorker identifies the calling OS thread's worker by tid. Used
// from code running on a task's raw stack (which has no other way to
// find "which worker am I") and from asyncPreemptResume, reached via a
// raw jump with no Go-level argument passing available.
func currentWorker() *worker {
	tid := int32(unix.Gettid())
	n := int(registeredSlotCount.Load())
	for i := 0; i < n; i++ {
		if preemptSlots[i].tid.Load() == tid {
			return workerRegistry[i].Load()
		}
	}
	return nil
}

// setPreemptTarget publishes which task worker id is currently running,
// so a signal arriving for that worker's thread finds the right
// forcedRegs to capture into. Cleared (nil) when the worker goes idle.
func setPreemptTarget(id int, m *taskMeta) {
	if id < 0 || id >= maxPreemptSlots {
		return
	}
	preemptSlots[id].meta.Store(m)
}

// findPreemptSlotByTid is called directly from the raw signal handler in
// preempt_amd64.s, which then copies the interrupted registers into the
// returned taskMeta's forced field; it never allocates and never blocks.
//
//go:nosplit
func findPreemptSlotByTid(tid int32) *taskMeta {
	n := int(registeredSlotCount.Load())
	for i := 0; i < n; i++ {
		if preemptSlots[i].tid.Load() == tid {
			return preemptSlots[i].meta.Load()
		}
	}
	return nil
}

// installPreemptHandler wires sigtrampPreemptStub (defined in
// preempt_amd64.s) as the raw handler for preemptSignal via a direct
// rt_sigaction call, bypassing the Go runtime's own signal multiplexer
// entirely — required because the handler must run in the restricted
// async-signal-safe environment described in preempt_amd64.s and
// must not compete with runtime-installed handlers on other signals.
func installPreemptHandler() error {
	asyncPreemptResumeAddr = funcAddr(asyncPreemptResume)

	var sa unix.Sigaction
	sa.Flags = unix.SA_SIGINFO | unix.SA_RESTART | unix.SA_RESTORER
	sa.Restorer = sigreturnTrampoline
	// Sigaction's Handler field is uintptr-typed for SA_SIGINFO use in
	// x/sys/unix; the trampoline address is taken via a linked asm
	// symbol rather than a Go func value, since Go func values are not
	// bare code pointers.
	setSigactionHandler(&sa, sigtrampPreemptAddr())
	return unix.Sigaction(int(preemptSignal), &sa, nil)
}

// setSigactionHandler pokes the raw handler address into sa, working
// around x/sys/unix.Sigaction's Handler field being sized/typed for the
// simple (non-SIGINFO) case on some architectures.
func setSigactionHandler(sa *unix.Sigaction, addr uintptr) {
	*(*uintptr)(unsafe.Pointer(&sa.Handler)) = addr
}

// signalTarget delivers preemptSignal to worker id's kernel thread via
// tgkill, addressing exactly that thread rather than the process as a
// whole (unlike kill, which the kernel may deliver to any thread that
// hasn't blocked the signal).
func signalTarget(tid int32) error {
	return unix.Tgkill(unix.Getpid(), int(tid), preemptSignal)
}

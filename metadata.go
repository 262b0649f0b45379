package gvthread

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// voluntaryRegs holds the callee-saved register set touched by the
// voluntary context switch: stack pointer, return address, and the
// amd64 System V callee-saved integer registers (bx, bp, r12-r15). Field
// order and size are load-bearing — switch_amd64.s indexes into this
// struct by fixed byte offset, not by field name.
//
// Offsets (amd64):
//
//	sp  0
//	pc  8
//	bp  16
//	bx  24
//	r12 32
//	r13 40
//	r14 48
//	r15 56
type voluntaryRegs struct {
	sp  uintptr
	pc  uintptr
	bp  uintptr
	bx  uintptr
	r12 uintptr
	r13 uintptr
	r14 uintptr
	r15 uintptr
}

const sizeofVoluntaryRegs = unsafe.Sizeof(voluntaryRegs{})

// forcedRegs holds the full general-purpose register file and flags
// captured by the signal handler on forced preemption. Its field order is
// not the kernel's gregset order: preempt_amd64.s copies each register by
// name using go_asm.h offsets, and only switch_amd64.s's forced-restore
// routine (gvthreadSwitchForced) reads it back.
type forcedRegs struct {
	rax, rbx, rcx, rdx    uintptr
	rsi, rdi, rbp, rsp    uintptr
	r8, r9, r10, r11      uintptr
	r12, r13, r14, r15    uintptr
	rip, eflags           uintptr
	fpDirty               atomic.Bool // set if any FP/SSE state must be lazily restored
	fpState               unsafe.Pointer
}

// taskMeta is the fixed-layout per-task control block. Every field
// touched by more than one party (the owning task, its worker, the
// timer, or a waker on another worker) is atomic; the rest are plain and
// are only ever touched by the task itself or by the scheduler while the
// task is provably not running (Created, or after it reaches Finished).
type taskMeta struct {
	// Control bytes.
	preempt   atomic.Bool
	cancelled atomic.Bool
	state     fastTaskState
	priority  Priority

	// Identity.
	id         TaskID
	parent     TaskID
	workerID   atomic.Int32 // -1 when not currently assigned
	generation atomic.Uint32

	// Entry: type-erased closure and its (unused today) argument word.
	entry    func()
	argument unsafe.Pointer

	// Join.
	result  atomic.Pointer[taskResult]
	waiters atomic.Pointer[waiterList]

	// Timing.
	createdAt time.Time
	wakeAt    atomic.Int64 // unix nanoseconds; valid only while Sleeping

	// Register save areas. voluntary is read directly by switch_amd64.s;
	// forced is written by the signal trampoline and read by the forced
	// restore routine.
	voluntary voluntaryRegs
	forced    forcedRegs

	// needsForcedRestore is set by asyncPreemptResume the moment a task is
	// forcibly evicted, and consulted (then cleared) by switchIn the next
	// time this slot runs: it picks gvthreadSwitchForced's full-register
	// restore over gvthreadSwitch's callee-saved-only one, since a forced
	// interrupt can catch any register live, not just the ones a real
	// CALL/RET boundary requires a callee to preserve.
	needsForcedRestore bool

	// stackLo/stackHi bound the task's mmap'd stack region; switchIn
	// publishes them to the Go runtime via swapGStack.
	stackLo uintptr
	stackHi uintptr
}

// taskResult carries a finished task's outcome to Handle.Wait.
type taskResult struct {
	value any
	err   error
}

// waiterList is a lock-free singly linked list of channels to close on
// finish; Handle.registerWaiter pushes onto it with a CAS loop, and
// finishTask swaps the whole list out.
type waiterList struct {
	ch   chan struct{}
	next *waiterList
}

func newTaskMeta(id TaskID) *taskMeta {
	m := &taskMeta{
		id:       id,
		parent:   NoTask,
		state:    *newFastTaskState(StateCreated),
	}
	m.workerID.Store(-1)
	return m
}

// reset clears a taskMeta for reuse by a new task at the same slot. The
// generation counter is not touched here: slotAllocator.release already
// bumped it the moment the previous occupant's slot was freed, which is
// also the instant the invariant ("after release, generation is strictly
// greater than before") must hold — waiting until reset would leave it
// violated for however long the slot sits idle in the free stack.
func (m *taskMeta) reset(priority Priority, parent TaskID, entry func()) {
	m.preempt.Store(false)
	m.cancelled.Store(false)
	m.state.Store(StateCreated)
	m.priority = priority
	m.parent = parent
	m.workerID.Store(-1)
	m.entry = entry
	m.argument = nil
	m.result.Store(nil)
	m.waiters.Store(nil)
	m.createdAt = time.Now()
	m.wakeAt.Store(0)
	m.voluntary = voluntaryRegs{}
	m.forced = forcedRegs{}
	m.needsForcedRestore = false
}

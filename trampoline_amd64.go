package gvthread

import "unsafe"

// gvthreadSwitch performs the voluntary context switch: it saves the
// caller's callee-saved registers and stack pointer into from, then
// loads to's saved registers and jumps to to.pc. The first switch into a
// freshly spawned task uses a to.pc that was primed by primeInitialStack
// to point at taskEntryTrampoline rather than a real saved return
// address.
//
// Implemented in switch_amd64.s. Must be called with the Go stack
// preemption check already satisfied (NOSPLIT on the callee), since the
// switch itself briefly runs on a stack the Go runtime does not know the
// bounds of.
//
//go:noescape
func gvthreadSwitch(from, to *voluntaryRegs)

// gvthreadSwitchForced saves the caller's callee-saved registers into from,
// exactly like gvthreadSwitch, but loads to's full general-purpose register
// file, flags, and stack pointer rather than just the callee-saved subset.
// Used the one time a switch-in target was not suspended at a real CALL: a
// task last evicted by a forced-preemption signal could have had any
// register live at the interrupted instruction, not only the ones a
// well-formed CALL/RET boundary requires a callee to preserve.
//
// Implemented in switch_amd64.s.
//
//go:noescape
func gvthreadSwitchForced(from *voluntaryRegs, to *forcedRegs)

// taskEntryTrampoline is the landing pad for a task's first-ever switch
// in. It is never called directly from Go; gvthreadSwitch jumps to its
// address using the classic bootstrap technique Go's own runtime uses
// for goexit/newproc1: the "parameter" isn't passed on the stack or in a
// register but is instead read back out of a well-known location — here,
// the curMeta field of the worker that currentWorker finds for this
// thread — because the freshly
// primed stack has no caller frame to receive arguments from.
func taskEntryTrampoline() {
	w := currentWorker()
	meta := w.state.curMeta.Load()
	func() {
		defer func() {
			if r := recover(); r != nil {
				meta.result.Store(&taskResult{err: newPanicError(r)})
			}
		}()
		meta.entry()
	}()
	if meta.result.Load() == nil {
		meta.result.Store(&taskResult{})
	}
	finishCurrent(w, meta)
}

// primeInitialStack writes the initial voluntaryRegs for a freshly
// activated slot so its first switch-in lands in taskEntryTrampoline
// with a valid stack pointer. The stack pointer is aligned down to 16
// bytes minus the 8-byte return-address slot the amd64 SysV ABI expects
// a callee to see, matching what a real CALL instruction would have
// pushed.
func primeInitialStack(stackHi uintptr) voluntaryRegs {
	sp := (stackHi - 8) &^ 0xF
	sp -= 8
	return voluntaryRegs{
		sp: sp,
		pc: funcAddr(taskEntryTrampoline),
	}
}

// funcAddr extracts the entry program counter of a Go function value.
// A Go func value is a pointer to a struct whose first word is the code
// pointer; dereferencing twice recovers it. This is the same
// double-indirection used by third-party monkey-patching libraries to
// obtain a function's address without a compiler intrinsic.
func funcAddr(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// sigtrampPreemptAddr returns the entry address of the raw signal
// handler defined in preempt_amd64.s, for installPreemptHandler to hand
// to rt_sigaction.
func sigtrampPreemptAddr() uintptr {
	return funcAddr(sigtrampPreemptStub)
}

// sigtrampPreemptStub is a Go-declared, assembly-defined symbol; its
// body performs no Go-visible work when called normally; it exists only
// so its address can be taken via funcAddr and installed as a raw
// SA_SIGINFO handler.
//
//go:noescape
func sigtrampPreemptStub()

// sigreturnTrampoline is installed as the signal restorer; see
// preempt_amd64.s.
//
//go:noescape
func sigreturnTrampoline()

// asyncPreemptResumeAddr is the code address of asyncPreemptResume,
// resolved once at startup and read directly by the raw asm handler in
// preempt_amd64.s (which cannot call funcAddr itself: it runs before
// any Go calling convention applies).
var asyncPreemptResumeAddr uintptr

// asyncPreemptResume is called (via a jump, not a Go call) from
// preempt_amd64.s once the raw handler has redirected the interrupted
// thread's instruction pointer here. It runs as ordinary Go code — the
// dangerous, restricted part of forced preemption ends the moment
// control reaches this function.
func asyncPreemptResume() {
	w := currentWorker()
	meta := w.state.curMeta.Load()
	// The interrupted register file already lives in meta.forced, copied
	// there by the raw signal handler before it ever redirected control
	// here; the next switchIn reads needsForcedRestore to know it must
	// resume through gvthreadSwitchForced instead of treating meta.voluntary
	// as though this task had suspended at an ordinary CALL.
	meta.needsForcedRestore = true
	w.pendingOutcome = outcomePreempted
	swapGStack(w.savedStackLo, w.savedStackHi, w.savedStackGuard)
	// The save side of this switch is thrown away: nothing will ever
	// resume "back into asyncPreemptResume at this exact point", since the
	// task's real resume state was already captured above.
	var discard voluntaryRegs
	gvthreadSwitch(&discard, &w.resumePoint)
}

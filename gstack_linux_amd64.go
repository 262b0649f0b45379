package gvthread

import "unsafe"

// gStackView mirrors the handful of fields at the front of the Go
// runtime's internal `stack` and `g` structs that must be rewritten
// whenever execution moves onto or off of a task's raw mmap'd stack:
// stack.lo, stack.hi, and stackguard0. Without this, a Go function
// call made while running on the task stack would compare the current
// SP against the *worker goroutine's* original stack bounds (still
// cached in its g), conclude the stack has overflowed, and crash the
// process instead of growing a stack that was never meant to grow.
//
// Field order and sizes are pinned to the layout of runtime.g as of the
// Go 1.24 toolchain this module targets (three uintptr-sized words at
// the very front of the g struct: stack.lo, stack.hi, stackguard0).
// There is no supported public API for this — go:linkname cannot reach
// runtime.getg (it is compiler-intrinsic, not a linkable symbol) — so
// the current g is instead located via the same fs-relative TLS slot
// runtime/asm_amd64.s's get_tls/get_g macros use, in getg_amd64.s. This
// is the accepted, if unsupported, technique the wider ecosystem's
// goroutine-local-storage and profiling tools rely on for the
// equivalent problem of reading (never previously writing) g state from
// outside the runtime package.
type gStackView struct {
	lo          uintptr
	hi          uintptr
	stackguard0 uintptr
}

// getg returns the current goroutine's g pointer, reinterpreted as a
// gStackView. Implemented in getg_amd64.s.
//
//go:noescape
func getg() unsafe.Pointer

// swapGStack overwrites the calling goroutine's visible stack bounds and
// returns the previous ones, so they can be restored by the matching
// call after switching back. Called immediately before and after every
// gvthreadSwitch that crosses onto or off of a task's raw stack.
//
//go:nosplit
func swapGStack(lo, hi, guard uintptr) (oldLo, oldHi, oldGuard uintptr) {
	g := (*gStackView)(getg())
	oldLo, oldHi, oldGuard = g.lo, g.hi, g.stackguard0
	g.lo, g.hi, g.stackguard0 = lo, hi, guard
	return
}

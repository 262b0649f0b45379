// Package gvthread implements a userspace M:N green-thread runtime for
// Linux/amd64: a fixed pool of kernel-scheduled worker threads multiplexes
// a large population of lightweight GVThreads, each with its own stack,
// cooperative yield points, and forcible preemption of CPU-bound work.
//
// # Architecture
//
// A [Runtime] owns a [Region] (reserved virtual memory sliced into fixed
// per-task slots), a slot allocator, a ready queue (per-worker local rings
// plus a global queue), a sleep queue, a single timer goroutine, and a
// fixed worker pool. [Runtime.Spawn] allocates a slot, primes a task's
// stack with an entry trampoline, and pushes it onto the ready queue.
// Workers pop ready tasks and context-switch into them; the switch is
// hand-written amd64 assembly, not a goroutine call, because a task's
// stack is a raw mmap'd region rather than a Go-managed goroutine stack.
//
// # Suspension points
//
// A task leaves Running only at [YieldNow], [Sleep], [BlockCurrent],
// return from its entry closure, or a [Safepoint] call that observes its
// preemption flag set, or via forced preemption delivered by the timer.
// Nothing else — in particular no ordinary function call — is a
// suspension point.
//
// # What this package does not do
//
// It exports only [BlockCurrent] and [Runtime.Wake] as low-level hooks
// for an external I/O reactor; it does not itself bridge to asynchronous
// kernel I/O, and it does not implement channels, mutexes, or
// cancellation tokens above that pair — those are built on top of it by
// separate packages. It has no CLI, no config-file loader, and no
// environment-variable parsing; callers wire a [Config] with [Option]
// values directly.
package gvthread

package gvthread

import "sync/atomic"

// TaskState is the lifecycle state of a GVThread.
//
// State machine:
//
//	Created    -> Ready       [enqueued after spawn]
//	Ready      -> Running     [popped by a worker]
//	Running    -> Ready       [yield_now]
//	Running    -> Sleeping    [sleep_until]
//	Running    -> Blocked     [block_current]
//	Running    -> Preempted   [forced preemption signal]
//	Preempted  -> Ready       [immediately, by the worker loop]
//	Sleeping   -> Ready       [timer wake]
//	Blocked    -> Ready       [external wake]
//	Running    -> Finished    [entry closure returns]
//
// TryTransition (CAS) is used where another party may race the change
// (Ready -> Running in the worker loop, Blocked/Sleeping -> Ready in
// wake); the worker loop and Spawn set the other states, including the
// terminal Finished, with Store.
type TaskState uint32

const (
	StateCreated TaskState = iota
	StateReady
	StateRunning
	StateBlocked
	StateSleeping
	StatePreempted
	StateFinished
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateSleeping:
		return "Sleeping"
	case StatePreempted:
		return "Preempted"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// fastTaskState is a lock-free CAS state machine with cache-line padding,
// used inside taskMeta. It never validates transitions itself — the
// scheduler is the sole author of valid transition sequences; this type
// only guarantees atomicity of the read-modify-write.
type fastTaskState struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newFastTaskState(initial TaskState) *fastTaskState {
	s := &fastTaskState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *fastTaskState) Load() TaskState { return TaskState(s.v.Load()) }

func (s *fastTaskState) Store(state TaskState) { s.v.Store(uint32(state)) }

func (s *fastTaskState) TryTransition(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

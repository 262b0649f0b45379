package gvthread

// WorkerStats is a point-in-time snapshot of one worker's status.
type WorkerStats struct {
	ID          int
	Running     TaskID
	Activity    uint64
	Parked      bool
	LowPriority bool
	LocalQueued int
}

// Stats is a point-in-time snapshot of runtime-wide introspection:
// per-worker status alongside queue depths and cumulative
// preemption/steal counters. Collecting it allocates the Workers slice
// and briefly takes the global queue's mutex, the sleep queue's and slot
// allocator's spinlocks, and each local ring's mutex; the counters and
// per-worker fields are atomic loads.
type Stats struct {
	Workers             []WorkerStats
	GlobalQueueDepth    int
	SleepQueueDepth     int
	FreeSlots           int
	ForcedPreempts      uint64
	CooperativePreempts uint64
	Steals              uint64
}

// Stats returns a snapshot of the runtime's current state. Safe to call
// from any goroutine at any time, including concurrently with running
// tasks.
func (rt *Runtime) Stats() Stats {
	s := Stats{
		Workers:             make([]WorkerStats, len(rt.workers)),
		GlobalQueueDepth:    rt.ready.global.depth(),
		SleepQueueDepth:     rt.sleepQ.len(),
		FreeSlots:           rt.alloc.available(),
		ForcedPreempts:      rt.stats.forcedPreempts.Load(),
		CooperativePreempts: rt.stats.cooperativePreempts.Load(),
		Steals:              rt.ready.steals.Load(),
	}
	for i, w := range rt.workers {
		s.Workers[i] = WorkerStats{
			ID:          i,
			Running:     TaskID(w.state.current.Load()),
			Activity:    w.state.activity.Load(),
			Parked:      w.state.parked.Load(),
			LowPriority: w.state.lowPriority,
			LocalQueued: rt.ready.locals[i].snapshotLen(),
		}
	}
	return s
}

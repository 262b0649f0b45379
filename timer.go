package gvthread

import (
	"time"
)

// timerLoop is the single goroutine responsible for everything
// time-based: waking sleeping tasks, marking stalled tasks for
// cooperative preemption, and escalating to a forced signal once a
// marked task's grace period elapses. Grounded on the same "sleep until
// the next thing that matters, then do a fixed amount of work" shape as
// an epoll-based poller loop, generalized from an epoll wait to a
// deadline: the sleep queue's earliest wake time, capped at TimerInterval
// so stall detection still runs at least once per interval.
type timerLoop struct {
	rt   *Runtime
	done chan struct{}

	lastActivity []uint64
	stallSince   []time.Time
}

func newTimerLoop(rt *Runtime) *timerLoop {
	return &timerLoop{
		rt:           rt,
		done:         make(chan struct{}),
		lastActivity: make([]uint64, len(rt.workers)),
		stallSince:   make([]time.Time, len(rt.workers)),
	}
}

func (t *timerLoop) stop() { close(t.done) }

func (t *timerLoop) run() {
	rt := t.rt
	timer := time.NewTimer(rt.cfg.TimerInterval)
	defer timer.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-timer.C:
			t.tick()
		}
		wait := rt.cfg.TimerInterval
		if next, ok := rt.sleepQ.nextDeadline(); ok {
			if d := time.Until(time.Unix(0, next)); d < wait {
				wait = d
			}
		}
		timer.Reset(wait)
	}
}

func (t *timerLoop) tick() {
	rt := t.rt
	now := time.Now()

	var expired []sleepEntry
	expired = rt.sleepQ.popExpired(now.UnixNano(), expired[:0])
	for _, e := range expired {
		rt.wake(e.id, e.generation)
	}

	t.checkStalls(now)
}

// checkStalls compares each running worker's activity counter against
// its value on the previous tick. A worker whose counter hasn't moved in
// TimeSlice is marked for cooperative preemption; if it still hasn't
// moved after an additional GracePeriod, the timer escalates to a
// forced signal, unless forced preemption is disabled.
func (t *timerLoop) checkStalls(now time.Time) {
	rt := t.rt
	for i, w := range rt.workers {
		if w.state.parked.Load() {
			t.stallSince[i] = time.Time{}
			continue
		}
		id := w.state.current.Load()
		if id == uint32(NoTask) {
			t.stallSince[i] = time.Time{}
			continue
		}
		activity := w.state.activity.Load()
		if activity != t.lastActivity[i] {
			t.lastActivity[i] = activity
			t.stallSince[i] = time.Time{}
			w.state.preemptMarkedAt.Store(0)
			continue
		}
		if t.stallSince[i].IsZero() {
			t.stallSince[i] = now
			continue
		}
		stalledFor := now.Sub(t.stallSince[i])
		if stalledFor < rt.cfg.TimeSlice {
			continue
		}
		meta := rt.metaFor(TaskID(id))
		markedAt := w.state.preemptMarkedAt.Load()
		if markedAt == 0 {
			meta.preempt.Store(true)
			w.state.preemptMarkedAt.Store(now.UnixNano())
			rt.stats.cooperativePreempts.Add(1)
			rt.logger().Log(Event{Level: LevelDebug, Category: "preempt", TaskID: TaskID(id), WorkerID: int32(i), Message: "marked"})
			continue
		}
		if now.Sub(time.Unix(0, markedAt)) < rt.cfg.GracePeriod {
			continue
		}
		tid := w.state.tid.Load()
		if tid == 0 || !rt.cfg.EnableForcedPreempt {
			continue
		}
		if err := signalTarget(tid); err != nil {
			rt.logger().Log(Event{Level: LevelError, Category: "preempt", TaskID: TaskID(id), WorkerID: int32(i), Message: "signal failed", Err: err})
		}
		// Reset the grace-period clock so a slow-to-land signal doesn't
		// retrigger every tick.
		w.state.preemptMarkedAt.Store(now.UnixNano())
	}
}

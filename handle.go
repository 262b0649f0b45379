package gvthread

import "context"

// Handle is returned by Spawn and lets the caller observe when a task
// finishes and collect its result. This is additive: the underlying
// join mechanism is just the block_current/wake pair every external
// collaborator uses, with Handle as the first in-tree consumer of it.
type Handle struct {
	rt         *Runtime
	id         TaskID
	generation uint32
}

// ID returns the handle's task id. Not meaningful once the task has
// finished and its slot has been reused (the generation check inside
// Wait is what actually protects against acting on a stale Handle).
func (h *Handle) ID() TaskID { return h.id }

// Wait blocks until the task finishes, returning its result and error.
// If called from inside another gvthread task, it parks that task via
// block_current/wake instead of blocking the underlying worker thread,
// so the worker stays available to run other tasks in the meantime. If
// called from ordinary goroutine code (e.g. from BlockOn's caller before
// the runtime starts, which is not a supported use, or from a bridge
// goroutine outside the runtime), it blocks on a channel instead.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	meta := h.rt.metaFor(h.id)
	if meta.generation.Load() != h.generation {
		// The task already finished and its slot was recycled before
		// Wait was even called; treat that as an immediate, resultless
		// success rather than racing to read a stranger's result.
		return nil, nil
	}

	if w := currentWorker(); w != nil {
		return h.waitFromTask(w, meta)
	}
	return h.waitFromGoroutine(ctx, meta)
}

// waitFromTask parks the calling task by registering a waiter channel
// and calling block_current; the finishing task's finishTask closes
// every registered waiter channel, and wake(callerID) resumes this one.
func (h *Handle) waitFromTask(w *worker, meta *taskMeta) (any, error) {
	callerMeta := w.state.curMeta.Load()
	if callerMeta == nil {
		return h.waitFromGoroutine(context.Background(), meta)
	}
	ch := make(chan struct{})
	callerID, callerGen := callerMeta.id, callerMeta.generation.Load()
	if !h.registerWaiter(meta, ch) {
		return h.readResult(meta)
	}
	h.rt.blockOnFinish(callerID, ch)
	_ = callerGen
	blockCurrent()
	return h.readResult(meta)
}

func (h *Handle) waitFromGoroutine(ctx context.Context, meta *taskMeta) (any, error) {
	ch := make(chan struct{})
	if !h.registerWaiter(meta, ch) {
		return h.readResult(meta)
	}
	select {
	case <-ch:
		return h.readResult(meta)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registerWaiter pushes ch onto meta's waiter list, unless the task has
// already finished (state observed as Finished), in which case it
// returns false and the caller should read the result immediately.
func (h *Handle) registerWaiter(meta *taskMeta, ch chan struct{}) bool {
	if meta.state.Load() == StateFinished {
		return false
	}
	for {
		head := meta.waiters.Load()
		node := &waiterList{ch: ch, next: head}
		if meta.waiters.CompareAndSwap(head, node) {
			break
		}
	}
	if meta.state.Load() == StateFinished {
		// Finished between the check above and the push; the waiter
		// list may or may not get closed depending on exactly when
		// finishTask swapped it out, so read directly instead of
		// trusting the channel.
		return false
	}
	return true
}

func (h *Handle) readResult(meta *taskMeta) (any, error) {
	r := meta.result.Load()
	if r == nil {
		return nil, nil
	}
	return r.value, r.err
}

// blockOnFinish bridges a closed waiter channel back into a wake() call
// for the blocked caller task. It costs one parked goroutine per
// outstanding task-to-task Wait call; an event-driven bridge (a single
// goroutine multiplexing many channels via reflect.Select, the way the
// out-of-scope I/O reactor would) would avoid that, but Handle is a
// supplementary convenience on top of block_current/wake, not a
// component this runtime is trying to make zero-overhead.
func (rt *Runtime) blockOnFinish(callerID TaskID, ch chan struct{}) {
	go func() {
		<-ch
		meta := rt.metaFor(callerID)
		rt.wake(callerID, meta.generation.Load())
	}()
}

package gvthread

import "sync/atomic"

// cancelKind tags which of the three Cancel variants is live. Kept as a
// plain value (not an interface) so Cancel itself never allocates on the
// task-stack hot path: allocating while running on a raw task stack
// invokes the host allocator against a stack pointer it does not
// recognize as one of its own arenas.
type cancelKind uint8

const (
	// cancelNever never reports cancelled; used for tasks with no
	// cancellation source (e.g. the entry task, if the caller didn't
	// ask for one).
	cancelNever cancelKind = iota
	// cancelOwned wraps a heap-allocated node created outside any task
	// (e.g. by an I/O bridge or a user-level cancellation token above
	// block_current/wake).
	cancelOwned
	// cancelTask is a zero-allocation view over a running task's own
	// cancelled byte in taskMeta.
	cancelTask
)

// ownedCancelNode is the heap node backing cancelOwned. It exists as its
// own type (rather than folding straight into Cancel) so cancelOwned
// handles can be copied freely while still sharing one cancellation
// flag.
type ownedCancelNode struct {
	cancelled atomic.Bool
}

// Cancel is a flat, copyable cancellation handle. It never participates
// in a cyclic parent/child reference graph: a shared-reference token
// graph can cycle and leak, so this design instead keeps each Cancel a
// leaf value that reads either a heap node it owns, a task's metadata
// byte it borrows, or nothing.
type Cancel struct {
	kind cancelKind
	node *ownedCancelNode // valid when kind == cancelOwned
	meta *taskMeta        // valid when kind == cancelTask
}

// NeverCancel returns a Cancel that is never cancelled.
func NeverCancel() Cancel { return Cancel{kind: cancelNever} }

// NewCancel returns a fresh, independently cancellable handle, backed by
// one heap allocation. Safe to create from ordinary goroutines; must not
// be created from code running on a task stack — allocate it before
// calling block_current, never after.
func NewCancel() Cancel {
	return Cancel{kind: cancelOwned, node: &ownedCancelNode{}}
}

// taskCancel returns a zero-allocation Cancel view over a task's own
// cancelled flag, for use by the scheduler when constructing the Cancel
// a spawned task observes via its own TaskID.
func taskCancel(m *taskMeta) Cancel {
	return Cancel{kind: cancelTask, meta: m}
}

// Cancelled reports whether this handle has observed cancellation.
func (c Cancel) Cancelled() bool {
	switch c.kind {
	case cancelOwned:
		return c.node.cancelled.Load()
	case cancelTask:
		return c.meta.cancelled.Load()
	default:
		return false
	}
}

// Cancel marks the handle cancelled. Idempotent. Calling Cancel on a
// NeverCancel handle is a silent no-op.
func (c Cancel) Cancel() {
	switch c.kind {
	case cancelOwned:
		c.node.cancelled.Store(true)
	case cancelTask:
		c.meta.cancelled.Store(true)
	}
}

package gvthread

import "testing"

func TestNeverCancelIsAlwaysFalse(t *testing.T) {
	c := NeverCancel()
	if c.Cancelled() {
		t.Fatal("NeverCancel must never report cancelled")
	}
	c.Cancel() // must be a silent no-op
	if c.Cancelled() {
		t.Fatal("Cancel() on a NeverCancel handle must not take effect")
	}
}

func TestOwnedCancelIsIndependent(t *testing.T) {
	a := NewCancel()
	b := NewCancel()
	a.Cancel()
	if !a.Cancelled() {
		t.Fatal("a should be cancelled")
	}
	if b.Cancelled() {
		t.Fatal("cancelling a must not affect an independently created b")
	}
}

func TestTaskCancelViewsMetadata(t *testing.T) {
	m := newTaskMeta(TaskID(0))
	c := taskCancel(m)
	if c.Cancelled() {
		t.Fatal("fresh taskMeta should not be cancelled")
	}
	m.cancelled.Store(true)
	if !c.Cancelled() {
		t.Fatal("taskCancel must observe the underlying taskMeta.cancelled flag")
	}
}

func TestCancelIsCopyable(t *testing.T) {
	a := NewCancel()
	b := a // copy
	a.Cancel()
	if !b.Cancelled() {
		t.Fatal("copies of an owned Cancel must share the same underlying flag")
	}
}

package gvthread

import "testing"

func TestTaskMetaResetLeavesGenerationUntouched(t *testing.T) {
	m := newTaskMeta(TaskID(3))
	if got := m.generation.Load(); got != 0 {
		t.Fatalf("fresh taskMeta generation = %d, want 0", got)
	}

	entry := func() {}
	m.reset(PriorityHigh, TaskID(1), entry)
	if got := m.generation.Load(); got != 0 {
		t.Fatalf("generation after reset = %d, want unchanged at 0; the bump belongs to slotAllocator.release", got)
	}
	if m.priority != PriorityHigh {
		t.Errorf("priority = %v, want PriorityHigh", m.priority)
	}
	if m.parent != TaskID(1) {
		t.Errorf("parent = %d, want 1", m.parent)
	}
	if m.state.Load() != StateCreated {
		t.Errorf("state after reset = %v, want Created", m.state.Load())
	}
	if w := m.workerID.Load(); w != -1 {
		t.Errorf("workerID after reset = %d, want -1", w)
	}

	m.generation.Add(1) // simulate the bump slotAllocator.release performs on the real path
	m.reset(PriorityLow, NoTask, entry)
	if got := m.generation.Load(); got != 1 {
		t.Fatalf("generation after second reset = %d, want 1 (unchanged by reset itself)", got)
	}
}

func TestTaskMetaResetClearsPreviousState(t *testing.T) {
	m := newTaskMeta(TaskID(0))
	m.preempt.Store(true)
	m.cancelled.Store(true)
	m.result.Store(&taskResult{value: "stale"})
	m.wakeAt.Store(12345)

	m.reset(PriorityNormal, NoTask, func() {})

	if m.preempt.Load() {
		t.Error("preempt flag must be cleared on reset")
	}
	if m.cancelled.Load() {
		t.Error("cancelled flag must be cleared on reset")
	}
	if m.result.Load() != nil {
		t.Error("result must be cleared on reset")
	}
	if m.wakeAt.Load() != 0 {
		t.Error("wakeAt must be cleared on reset")
	}
}

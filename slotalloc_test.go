package gvthread

import "testing"

func TestSlotAllocatorLIFOReuse(t *testing.T) {
	generations := make([]uint32, 4)
	a := newSlotAllocator(4, func(id TaskID) { generations[id]++ })
	if got := a.available(); got != 4 {
		t.Fatalf("available() = %d, want 4", got)
	}

	first, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != 0 {
		t.Fatalf("first id = %d, want 0", first)
	}

	a.release(first)
	second, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second != first {
		t.Fatalf("LIFO reuse: got %d, want %d (the just-released id)", second, first)
	}
}

func TestSlotAllocatorReleaseBumpsGenerationImmediately(t *testing.T) {
	var bumped []TaskID
	a := newSlotAllocator(2, func(id TaskID) { bumped = append(bumped, id) })

	id, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	a.release(id)
	if len(bumped) != 1 || bumped[0] != id {
		t.Fatalf("bumpGeneration calls = %v, want a single call for %d", bumped, id)
	}
}

func TestSlotAllocatorExhaustion(t *testing.T) {
	a := newSlotAllocator(2, func(TaskID) {})
	if _, err := a.allocate(); err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	if _, err := a.allocate(); err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	if _, err := a.allocate(); err != ErrCapacityExceeded {
		t.Fatalf("allocate 3 err = %v, want ErrCapacityExceeded", err)
	}
	if got := a.available(); got != 0 {
		t.Fatalf("available() = %d, want 0", got)
	}
}

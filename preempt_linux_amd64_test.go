package gvthread

import (
	"testing"

	"golang.org/x/sys/unix"
)

// highTestSlot is chosen well above any id a running Runtime's worker pool
// would use in these tests (WithNumWorkers never exceeds a handful here),
// so these tests can poke the shared preemptSlots/workerRegistry tables
// without racing a real worker's own registration.
const highTestSlot = 900

func clearPreemptSlot(id int) {
	preemptSlots[id].tid.Store(0)
	preemptSlots[id].meta.Store(nil)
	workerRegistry[id].Store(nil)
}

func TestRegisterAndFindPreemptSlotByTid(t *testing.T) {
	defer clearPreemptSlot(highTestSlot)

	tid := int32(unix.Gettid())
	w := &worker{id: highTestSlot}
	registerPreemptSlot(highTestSlot, tid, w)

	m := newTaskMeta(TaskID(1))
	setPreemptTarget(highTestSlot, m)

	if got := findPreemptSlotByTid(tid); got != m {
		t.Fatalf("findPreemptSlotByTid = %v, want %v", got, m)
	}
}

func TestCurrentWorkerResolvesByCallingThread(t *testing.T) {
	defer clearPreemptSlot(highTestSlot)

	tid := int32(unix.Gettid())
	w := &worker{id: highTestSlot}
	registerPreemptSlot(highTestSlot, tid, w)

	if got := currentWorker(); got != w {
		t.Fatalf("currentWorker = %v, want %v", got, w)
	}
}

func TestSetPreemptTargetClearsOnNil(t *testing.T) {
	defer clearPreemptSlot(highTestSlot)

	tid := int32(unix.Gettid())
	registerPreemptSlot(highTestSlot, tid, &worker{id: highTestSlot})

	m := newTaskMeta(TaskID(2))
	setPreemptTarget(highTestSlot, m)
	if findPreemptSlotByTid(tid) != m {
		t.Fatal("setPreemptTarget did not publish the target")
	}

	setPreemptTarget(highTestSlot, nil)
	if got := findPreemptSlotByTid(tid); got != nil {
		t.Fatalf("findPreemptSlotByTid after clearing = %v, want nil", got)
	}
}

func TestRegisterPreemptSlotIgnoresOutOfRangeID(t *testing.T) {
	// Must not panic or corrupt the tables; out-of-range ids are simply
	// dropped, degrading that worker to cooperative-only preemption.
	registerPreemptSlot(-1, 42, &worker{id: -1})
	registerPreemptSlot(maxPreemptSlots, 42, &worker{id: maxPreemptSlots})
	setPreemptTarget(-1, nil)
	setPreemptTarget(maxPreemptSlots, nil)
}

package gvthread

import "testing"

func TestSleepQueueOrdersByWakeTime(t *testing.T) {
	q := newSleepQueue()
	q.schedule(TaskID(2), 1, 300)
	q.schedule(TaskID(0), 1, 100)
	q.schedule(TaskID(1), 1, 200)

	got := q.popExpired(1000, nil)
	if len(got) != 3 {
		t.Fatalf("popExpired returned %d entries, want 3", len(got))
	}
	wantOrder := []TaskID{0, 1, 2}
	for i, e := range got {
		if e.id != wantOrder[i] {
			t.Errorf("entry %d id = %d, want %d", i, e.id, wantOrder[i])
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue len = %d after draining, want 0", q.len())
	}
}

func TestSleepQueuePopExpiredOnlyReturnsDue(t *testing.T) {
	q := newSleepQueue()
	q.schedule(TaskID(0), 1, 100)
	q.schedule(TaskID(1), 1, 500)

	got := q.popExpired(200, nil)
	if len(got) != 1 || got[0].id != TaskID(0) {
		t.Fatalf("popExpired(200) = %+v, want only id 0", got)
	}
	if q.len() != 1 {
		t.Fatalf("queue len = %d, want 1 remaining", q.len())
	}
}

func TestSleepQueueCancelHonorsGeneration(t *testing.T) {
	q := newSleepQueue()
	q.schedule(TaskID(0), 1, 100)

	// A cancel carrying a stale generation must not remove the entry.
	q.cancel(TaskID(0), 0)
	if q.len() != 1 {
		t.Fatalf("stale-generation cancel removed the entry; len = %d, want 1", q.len())
	}

	q.cancel(TaskID(0), 1)
	if q.len() != 0 {
		t.Fatalf("matching-generation cancel left len = %d, want 0", q.len())
	}
}

func TestSleepQueueRescheduleReplacesPending(t *testing.T) {
	q := newSleepQueue()
	q.schedule(TaskID(0), 1, 1000)
	q.schedule(TaskID(0), 1, 50)
	if q.len() != 1 {
		t.Fatalf("rescheduling the same id should replace, not duplicate; len = %d", q.len())
	}
	got := q.popExpired(50, nil)
	if len(got) != 1 || got[0].wakeAt != 50 {
		t.Fatalf("popExpired = %+v, want the rescheduled 50ns entry", got)
	}
}

func TestSleepQueueNextDeadline(t *testing.T) {
	q := newSleepQueue()
	if _, ok := q.nextDeadline(); ok {
		t.Fatal("nextDeadline on empty queue must report false")
	}
	q.schedule(TaskID(0), 1, 500)
	q.schedule(TaskID(1), 1, 200)
	deadline, ok := q.nextDeadline()
	if !ok || deadline != 200 {
		t.Fatalf("nextDeadline() = (%d, %v), want (200, true)", deadline, ok)
	}
}

package gvthread

import "testing"

func TestNoTaskIsAllOnes(t *testing.T) {
	if NoTask != TaskID(^uint32(0)) {
		t.Fatalf("NoTask = %d, want all-ones", uint32(NoTask))
	}
	var zero TaskID
	if zero == NoTask {
		t.Fatal("the zero TaskID must not compare equal to NoTask")
	}
}

func TestPriorityString(t *testing.T) {
	cases := map[Priority]string{
		PriorityCritical: "critical",
		PriorityHigh:     "high",
		PriorityNormal:   "normal",
		PriorityLow:      "low",
		Priority(99):     "unknown",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Priority(%d).String() = %q, want %q", p, got, want)
		}
	}
}

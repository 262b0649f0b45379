package gvthread

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNopLoggerDiscardsEverything(t *testing.T) {
	var l NopLogger
	if l.Enabled(LevelError) {
		t.Fatal("NopLogger must report every level disabled")
	}
	l.Log(Event{Level: LevelError, Message: "should be discarded"})
}

func TestZerologLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := NewZerologLogger(base, LevelWarn)

	l.Log(Event{Level: LevelDebug, Category: "spawn", Message: "below threshold"})
	if buf.Len() != 0 {
		t.Fatalf("a Debug event under a Warn threshold must be dropped, got %q", buf.String())
	}

	l.Log(Event{Level: LevelError, Category: "preempt", TaskID: TaskID(7), Message: "forced"})
	out := buf.String()
	if !strings.Contains(out, `"category":"preempt"`) {
		t.Errorf("log output missing category field: %s", out)
	}
	if !strings.Contains(out, `"task_id":7`) {
		t.Errorf("log output missing task_id field: %s", out)
	}
}

func TestZerologLoggerOmitsNoTaskField(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), LevelDebug)
	l.Log(Event{Level: LevelInfo, Category: "shutdown", TaskID: NoTask})
	if strings.Contains(buf.String(), "task_id") {
		t.Errorf("an event carrying NoTask must not emit a task_id field: %s", buf.String())
	}
}

func TestLevelString(t *testing.T) {
	if got := LevelWarn.String(); got != "warn" {
		t.Errorf("LevelWarn.String() = %q", got)
	}
	if got := Level(99).String(); got != "unknown" {
		t.Errorf("Level(99).String() = %q, want unknown", got)
	}
}

package gvthread

import (
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the four severities eventloop.LogLevel exposes; kept
// small and unexported-adjacent (no Fatal/Panic) because nothing in this
// package ever wants logging to be able to terminate the process — fatal
// conditions here always go through a typed error instead.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a structured log record. Category names match the
// subsystems that emit them: "spawn", "run", "finish", "worker",
// "preempt", "region". Callers construct one on the
// stack and pass it to Logger.Log; nothing here retains the value.
type Event struct {
	Level      Level
	Category   string
	TaskID     TaskID
	WorkerID   int32
	Generation uint32
	Message    string
	Err        error
	Time       time.Time
}

// Logger is the structured logging interface consumed by the runtime.
// Implementations must tolerate concurrent calls from any worker, the
// timer goroutine, and (best-effort, never allocating) the signal path.
type Logger interface {
	Log(Event)
	Enabled(Level) bool
}

// NopLogger discards everything; it is the zero-value default so a
// Runtime constructed without WithLogger never nil-derefs.
type NopLogger struct{}

func (NopLogger) Log(Event)          {}
func (NopLogger) Enabled(Level) bool { return false }

// zerologLogger adapts Logger onto github.com/rs/zerolog, the structured
// logging backend named directly by logiface-zerolog's dependency graph
// in the example pack. Field names mirror eventloop's LogEntry shape
// (category, loop/task/worker ids) translated into zerolog's chained
// field builder.
type zerologLogger struct {
	base  zerolog.Logger
	level Level
}

// NewZerologLogger wraps an existing zerolog.Logger. Events below level
// are dropped before any field is built, so Enabled is cheap to check on
// hot paths that would otherwise format a message no one will see.
func NewZerologLogger(base zerolog.Logger, level Level) Logger {
	return &zerologLogger{base: base, level: level}
}

func (z *zerologLogger) Enabled(l Level) bool { return l >= z.level }

func (z *zerologLogger) Log(e Event) {
	if !z.Enabled(e.Level) {
		return
	}
	var ev *zerolog.Event
	switch e.Level {
	case LevelDebug:
		ev = z.base.Debug()
	case LevelWarn:
		ev = z.base.Warn()
	case LevelError:
		ev = z.base.Error()
	default:
		ev = z.base.Info()
	}
	ev = ev.Str("category", e.Category)
	if e.TaskID != NoTask {
		ev = ev.Uint32("task_id", uint32(e.TaskID))
	}
	if e.WorkerID >= 0 {
		ev = ev.Int32("worker_id", e.WorkerID)
	}
	if e.Generation != 0 {
		ev = ev.Uint32("generation", e.Generation)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	ev.Time("ts", e.Time).Msg(e.Message)
}

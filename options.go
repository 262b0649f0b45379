package gvthread

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
)

const (
	defaultTimeSlice     = 10 * time.Millisecond
	defaultGracePeriod   = 2 * time.Millisecond
	defaultTimerInterval = time.Millisecond
	defaultSlotSize      = DefaultSlotSize
	defaultMaxTasks      = 4096
)

// Config holds every tunable named by the configuration table: worker
// counts, per-task memory sizing, preemption timing, and the ready
// queue's local ring size. Constructed only via Resolve, never directly,
// so defaults and validation always run.
type Config struct {
	NumWorkers            int
	NumLowPriorityWorkers int
	MaxTasks              uint32
	SlotSize              uintptr
	TimeSlice             time.Duration
	GracePeriod           time.Duration
	TimerInterval         time.Duration
	EnableForcedPreempt   bool
	LocalQueueCapacity    int
	Logger                Logger
}

// Option mutates a Config under construction, returning an error for
// invalid values so bad configuration fails at Resolve time rather than
// producing a runtime that silently misbehaves.
type Option func(*Config) error

// WithNumWorkers sets the worker pool size. n must be positive.
func WithNumWorkers(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("gvthread: num workers must be positive, got %d", n)
		}
		c.NumWorkers = n
		return nil
	}
}

// WithLowPriorityWorkers marks the last n workers of the pool as
// low-priority: only they pick up PriorityLow tasks, and they run ordinary
// work as well. n must not exceed the eventual worker count; that
// cross-check happens in Resolve since worker count may still be at its
// default there.
func WithLowPriorityWorkers(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("gvthread: num low priority workers must be non-negative, got %d", n)
		}
		c.NumLowPriorityWorkers = n
		return nil
	}
}

// WithMaxTasks bounds the number of concurrently live tasks, sizing the
// slot allocator and memory region up front. Must be positive.
func WithMaxTasks(n uint32) Option {
	return func(c *Config) error {
		if n == 0 {
			return fmt.Errorf("gvthread: max tasks must be positive")
		}
		c.MaxTasks = n
		return nil
	}
}

// WithSlotSize sets the virtual address span reserved per task slot,
// including its guard page and metadata page. Must be a multiple of the
// page size and large enough to hold the fixed overhead.
func WithSlotSize(bytes uintptr) Option {
	return func(c *Config) error {
		if bytes%pageSize != 0 {
			return fmt.Errorf("gvthread: slot size must be a multiple of the page size (%d)", pageSize)
		}
		if bytes <= metaPageSize+guardPageSize {
			return fmt.Errorf("gvthread: slot size %d too small to hold metadata and guard pages", bytes)
		}
		c.SlotSize = bytes
		return nil
	}
}

// WithTimeSlice sets how long a task may run before the timer marks it
// for cooperative preemption.
func WithTimeSlice(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("gvthread: time slice must be positive")
		}
		c.TimeSlice = d
		return nil
	}
}

// WithGracePeriod sets the extra duration the timer waits after marking
// a task for preemption before escalating to a forced signal.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("gvthread: grace period must be non-negative")
		}
		c.GracePeriod = d
		return nil
	}
}

// WithTimerInterval bounds the timer goroutine's sleep between ticks,
// even when the sleep queue has nothing pending sooner, so stall
// detection stays responsive.
func WithTimerInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("gvthread: timer interval must be positive")
		}
		c.TimerInterval = d
		return nil
	}
}

// WithForcedPreempt enables or disables signal-based forced preemption.
// When false, a task that never reaches a safepoint runs until it
// yields, blocks, or finishes on its own.
func WithForcedPreempt(enabled bool) Option {
	return func(c *Config) error {
		c.EnableForcedPreempt = enabled
		return nil
	}
}

// WithLocalQueueCapacity validates n and stores it in
// Config.LocalQueueCapacity. The ready queue does not read this field:
// every per-worker ring holds localRingCapacity (256) entries whatever
// value is set here.
func WithLocalQueueCapacity(n int) Option {
	return func(c *Config) error {
		if n <= 0 || n > localRingCapacity {
			return fmt.Errorf("gvthread: local queue capacity must be in (0, %d], got %d", localRingCapacity, n)
		}
		c.LocalQueueCapacity = n
		return nil
	}
}

// WithLogger installs a Logger. The zero-value default is NopLogger.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return fmt.Errorf("gvthread: logger must not be nil")
		}
		c.Logger = l
		return nil
	}
}

// Resolve applies opts over a set of defaults and validates the result.
// The worker-count default comes from GOMAXPROCS after letting
// automaxprocs reconcile it against any cgroup CPU quota, so a runtime
// started inside a container without an explicit WithNumWorkers doesn't
// oversubscribe the host.
func Resolve(opts []Option) (*Config, error) {
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	if err == nil {
		defer undo()
	}

	c := &Config{
		NumWorkers:          runtime.GOMAXPROCS(0),
		MaxTasks:            defaultMaxTasks,
		SlotSize:            defaultSlotSize,
		TimeSlice:           defaultTimeSlice,
		GracePeriod:         defaultGracePeriod,
		TimerInterval:       defaultTimerInterval,
		EnableForcedPreempt: true,
		LocalQueueCapacity:  localRingCapacity,
		Logger:              NopLogger{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.NumLowPriorityWorkers > c.NumWorkers {
		return nil, fmt.Errorf("gvthread: num low priority workers (%d) exceeds num workers (%d)", c.NumLowPriorityWorkers, c.NumWorkers)
	}
	return c, nil
}

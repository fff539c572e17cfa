package vmsync

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/monitor"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// Default thin lock backoff bounds.
const (
	DefaultSpinMin = time.Millisecond
	DefaultSpinMax = time.Second
)

// Options configures a Runtime.
type Options struct {
	// Threads is the thread list. Default: a new empty list.
	Threads *thread.List

	// Sampler reports lock contention. nil disables sampling.
	Sampler *contention.Sampler

	// SpinMin and SpinMax bound the sleep between thin lock polls while
	// another thread holds the lock. The delay doubles from SpinMin and
	// wraps back to SpinMin once it reaches SpinMax/2.
	SpinMin time.Duration
	SpinMax time.Duration

	// MaxMonitors caps the number of live monitors; 0 means the lock word
	// limit.
	MaxMonitors uint32

	// Logger receives Debug traces of spinning, inflation and sweeping.
	// Default: discard.
	Logger *slog.Logger
}

// Runtime owns the monitor list and implements object synchronization.
type Runtime struct {
	threads  *thread.List
	monitors *monitor.List
	sampler  *contention.Sampler
	spinMin  time.Duration
	spinMax  time.Duration
	sleepMon *monitor.Monitor
	logger   *slog.Logger
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	rt := &Runtime{
		threads: opts.Threads,
		sampler: opts.Sampler,
		spinMin: opts.SpinMin,
		spinMax: opts.SpinMax,
		logger:  opts.Logger,
	}
	if rt.threads == nil {
		rt.threads = thread.NewList()
	}
	if rt.spinMin <= 0 {
		rt.spinMin = DefaultSpinMin
	}
	if rt.spinMax <= 0 {
		rt.spinMax = DefaultSpinMax
	}
	if rt.spinMax < rt.spinMin {
		rt.spinMax = rt.spinMin
	}
	if rt.logger == nil {
		rt.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rt.monitors = monitor.NewList(monitor.ListOptions{
		Sampler:     rt.sampler,
		Logger:      rt.logger,
		MaxMonitors: opts.MaxMonitors,
	})
	rt.sleepMon = monitor.New(nil, nil)
	return rt
}

// Threads returns the thread list.
func (rt *Runtime) Threads() *thread.List {
	return rt.threads
}

// Monitors returns the monitor list.
func (rt *Runtime) Monitors() *monitor.List {
	return rt.monitors
}

// Sampler returns the contention sampler, possibly nil.
func (rt *Runtime) Sampler() *contention.Sampler {
	return rt.sampler
}

// SweepMonitors frees the monitors of objects isUnmarked reports dead.
// Only call while no mutator runs.
func (rt *Runtime) SweepMonitors(isUnmarked func(*heap.Object) bool) int {
	return rt.monitors.Sweep(isUnmarked)
}

// Close frees every monitor.
func (rt *Runtime) Close() {
	rt.monitors.Free()
}

func (rt *Runtime) debug(msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if rt.logger.Enabled(ctx, slog.LevelDebug) {
		rt.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
	}
}

package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// ListOptions configures a List.
type ListOptions struct {
	// Sampler is shared by every monitor created. nil disables sampling.
	Sampler *contention.Sampler
	// Logger receives Debug records for sweeps. Default: discard.
	Logger *slog.Logger
	// MaxMonitors caps the index table; 0 means the lock word limit.
	MaxMonitors uint32
}

// List is the process-wide set of monitors.
//
// Insertion is a lock-free prepend and may run concurrently with lookups
// and with other insertions. Sweep and Free unlink monitors and must only
// run while no mutator is active.
type List struct {
	head    atomic.Pointer[Monitor]
	table   *Table
	n       atomic.Int64
	sampler *contention.Sampler
	logger  *slog.Logger
}

// NewList creates an empty monitor list.
func NewList(opts ListOptions) *List {
	l := &List{
		table:   NewTable(opts.MaxMonitors),
		sampler: opts.Sampler,
		logger:  opts.Logger,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Create builds a monitor for obj, already held by owner with the given
// recursion count, assigns it an index and publishes it in the list.
//
// The monitor mutex is taken before the monitor becomes reachable, so the
// acquisition never blocks.
func (l *List) Create(owner *thread.Thread, obj *heap.Object, count int) *Monitor {
	m := New(obj, l.sampler)
	if !m.mu.TryLock() {
		panic("monitor: fresh monitor is locked")
	}
	m.owner.Store(owner)
	m.count.Store(int32(count))
	if l.sampler.Enabled() {
		loc := l.sampler.Locate(owner)
		m.ownerLoc.Store(&loc)
	}
	m.index = l.table.insert(m)

	for {
		old := l.head.Load()
		m.next = old
		if l.head.CompareAndSwap(old, m) {
			break
		}
	}
	l.n.Add(1)
	return m
}

// Lookup returns the monitor with the given index, or nil.
func (l *List) Lookup(idx uint32) *Monitor {
	return l.table.Lookup(idx)
}

// Contains reports whether m is in the list.
func (l *List) Contains(m *Monitor) bool {
	found := false
	l.Each(func(x *Monitor) bool {
		found = x == m
		return !found
	})
	return found
}

// Each calls fn for every monitor, most recent first, until fn returns
// false.
func (l *List) Each(fn func(*Monitor) bool) {
	for m := l.head.Load(); m != nil; m = m.next {
		if !fn(m) {
			return
		}
	}
}

// Len returns the number of monitors.
func (l *List) Len() int {
	return int(l.n.Load())
}

// Sweep frees every monitor whose object isUnmarked reports dead and
// returns how many were freed.
//
// A monitor of a dead object cannot be held or waited on; finding one that
// is locked means heap corruption and panics.
func (l *List) Sweep(isUnmarked func(*heap.Object) bool) int {
	freed := 0
	var prev *Monitor
	for m := l.head.Load(); m != nil; {
		next := m.next
		if isUnmarked(m.obj) {
			l.free(m, true)
			if prev == nil {
				l.head.Store(next)
			} else {
				prev.next = next
			}
			freed++
		} else {
			prev = m
		}
		m = next
	}
	if freed > 0 {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "monitors swept",
			slog.Int("freed", freed), slog.Int("live", l.Len()))
	}
	return freed
}

// Free releases every monitor regardless of state. Used at shutdown.
func (l *List) Free() {
	m := l.head.Swap(nil)
	for m != nil {
		next := m.next
		l.free(m, false)
		m = next
	}
}

func (l *List) free(m *Monitor, checkIdle bool) {
	if checkIdle {
		if !m.mu.TryLock() {
			panic("monitor: freeing held monitor " + m.String())
		}
		m.mu.Unlock()
	}
	l.table.release(m.index)
	m.next = nil
	l.n.Add(-1)
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "monitor freed",
		slog.Uint64("index", uint64(m.index)),
		slog.String("object", m.obj.String()))
}

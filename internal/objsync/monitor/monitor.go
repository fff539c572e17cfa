// Package monitor implements heavyweight object monitors.
//
// A Monitor is created when an object's thin lock inflates. It pairs a
// mutex with an owner, a recursion count and a wait set of parked threads,
// and it is never deflated: it lives until the collector sweeps the object
// it belongs to.
//
// Ownership fields:
//   - owner is written only by the thread holding mu; other threads read it
//     for ownership checks and diagnostics.
//   - count is only changed by the owner.
//   - the wait set is changed only by the owner, under wsMu so that
//     diagnostics can snapshot it.
package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/internal/objsync/deadline"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
	"github.com/kolkov/objmonitor/internal/objsync/waitset"
)

// Monitor is a heavyweight lock with a wait set.
type Monitor struct {
	mu    sync.Mutex
	owner atomic.Pointer[thread.Thread]
	count atomic.Int32

	obj   *heap.Object
	index uint32

	wsMu    sync.Mutex
	waitSet waitset.Queue[*thread.Thread]

	// ownerLoc is where the current owner acquired the lock. Recorded only
	// while contention sampling is enabled.
	ownerLoc atomic.Pointer[thread.Location]

	next    *Monitor
	sampler *contention.Sampler
}

// New creates an unowned monitor for obj, outside any list. Monitors for
// inflated objects come from List.Create.
func New(obj *heap.Object, sampler *contention.Sampler) *Monitor {
	return &Monitor{obj: obj, sampler: sampler}
}

// Lock acquires the monitor for self, recursively if self already owns it.
func (m *Monitor) Lock(self *thread.Thread) {
	if m.owner.Load() == self {
		m.count.Add(1)
		return
	}
	m.acquire(self)
	m.setOwner(self)
}

// TryLock acquires the monitor without blocking and reports success.
func (m *Monitor) TryLock(self *thread.Thread) bool {
	if m.owner.Load() == self {
		m.count.Add(1)
		return true
	}
	if !m.mu.TryLock() {
		return false
	}
	m.setOwner(self)
	return true
}

// acquire takes the mutex, reporting StatusMonitor to the scheduler and
// timing the wait for contention sampling if it has to block.
func (m *Monitor) acquire(self *thread.Thread) {
	if m.mu.TryLock() {
		return
	}

	var (
		start time.Time
		prev  thread.Location
	)
	sampling := m.sampler.Enabled()
	if sampling {
		start = time.Now()
		if p := m.ownerLoc.Load(); p != nil {
			prev = *p
		}
	}

	g := self.EnterStatus(thread.StatusMonitor)
	self.SetEntering(m.obj)
	m.mu.Lock()
	self.SetEntering(nil)
	g.Exit()

	if sampling {
		m.sampler.Observe(self, time.Since(start), prev)
	}
}

func (m *Monitor) setOwner(self *thread.Thread) {
	m.owner.Store(self)
	if c := m.count.Load(); c != 0 {
		panic(fmt.Sprintf("monitor: acquired with recursion count %d", c))
	}
	if m.sampler.Enabled() {
		loc := m.sampler.Locate(self)
		m.ownerLoc.Store(&loc)
	}
}

// Unlock releases one level of ownership.
//
// Returns an IllegalMonitorState error, leaving the monitor unchanged, if
// self is not the owner.
func (m *Monitor) Unlock(self *thread.Thread) error {
	owner := m.owner.Load()
	if owner != self {
		return failedUnlock(owner, self)
	}
	if m.count.Load() == 0 {
		m.owner.Store(nil)
		m.ownerLoc.Store(nil)
		m.mu.Unlock()
	} else {
		m.count.Add(-1)
	}
	return nil
}

func failedUnlock(owner, self *thread.Thread) error {
	if owner == nil {
		return NewError(IllegalMonitorState, "unlock of unowned monitor")
	}
	return NewError(IllegalMonitorState,
		fmt.Sprintf("unlock of monitor owned by '%s' on thread '%s'", owner.Name(), self.Name()))
}

// Wait releases the monitor and parks self until notified, interrupted or,
// if ms or ns is non-zero, until the timeout elapses. It returns with the
// monitor held at the recursion depth it had on entry.
//
// Parameters:
//   - ms, ns: relative timeout; (0, 0) waits forever
//   - interruptShouldThrow: report an interrupted wake as ErrInterrupted;
//     the interrupt flag is cleared either way
//
// Returns:
//   - IllegalMonitorState if self does not own the monitor
//   - IllegalArgument if ms < 0 or ns is outside [0, 999999]
//   - Interrupted if woken by an interrupt and interruptShouldThrow is set
func (m *Monitor) Wait(self *thread.Thread, ms int64, ns int32, interruptShouldThrow bool) error {
	return m.wait(self, ms, ns, interruptShouldThrow, thread.StatusWait)
}

// Sleep parks self on m for the given time. m is private to the sleeper,
// so only a timeout or an interrupt ends the sleep. An interrupted sleep
// returns ErrInterrupted.
func (m *Monitor) Sleep(self *thread.Thread, ms int64, ns int32) error {
	m.Lock(self)
	err := m.wait(self, ms, ns, true, thread.StatusSleeping)
	if uerr := m.Unlock(self); uerr != nil {
		return uerr
	}
	return err
}

func (m *Monitor) wait(self *thread.Thread, ms int64, ns int32, interruptShouldThrow bool, status thread.Status) error {
	if m.owner.Load() != self {
		return NewError(IllegalMonitorState, "object not locked by thread before wait()")
	}
	if ms < 0 || ns < 0 || ns > 999999 {
		return NewError(IllegalArgument, "timeout arguments out of range")
	}

	timed := ms != 0 || ns != 0
	var until deadline.Timespec
	if timed {
		until = deadline.Absolute(ms, ns)
		if status == thread.StatusWait {
			status = thread.StatusTimedWait
		}
	}

	m.wsMu.Lock()
	m.waitSet.Append(self)
	m.wsMu.Unlock()

	// The lock is logically released while parked, even when held
	// recursively.
	prevCount := m.count.Swap(0)
	prevLoc := m.ownerLoc.Swap(nil)
	m.owner.Store(nil)

	g := self.EnterStatus(status)
	interrupted, released := self.Park(m, m.mu.Unlock, timed, until)
	if released {
		m.acquire(self)
	}

	m.owner.Store(self)
	m.count.Store(prevCount)
	m.ownerLoc.Store(prevLoc)

	m.wsMu.Lock()
	m.waitSet.Remove(self)
	m.wsMu.Unlock()

	g.Exit()

	if interrupted && interruptShouldThrow {
		return NewError(Interrupted, "")
	}
	return nil
}

// Notify wakes one thread parked on m.
//
// Threads popped from the wait set that are no longer parked (they timed
// out and are reacquiring) are skipped.
func (m *Monitor) Notify(self *thread.Thread) error {
	if m.owner.Load() != self {
		return NewError(IllegalMonitorState, "object not locked by thread before notify()")
	}
	for {
		m.wsMu.Lock()
		t, ok := m.waitSet.Pop()
		m.wsMu.Unlock()
		if !ok || t.Signal() {
			return nil
		}
	}
}

// NotifyAll wakes every thread parked on m.
func (m *Monitor) NotifyAll(self *thread.Thread) error {
	if m.owner.Load() != self {
		return NewError(IllegalMonitorState, "object not locked by thread before notifyAll()")
	}
	for {
		m.wsMu.Lock()
		t, ok := m.waitSet.Pop()
		m.wsMu.Unlock()
		if !ok {
			return nil
		}
		t.Signal()
	}
}

// Owner returns the owning thread, or nil.
func (m *Monitor) Owner() *thread.Thread {
	return m.owner.Load()
}

// RecursionCount returns the number of nested acquisitions beyond the
// first.
func (m *Monitor) RecursionCount() int {
	return int(m.count.Load())
}

// Object returns the object this monitor belongs to.
func (m *Monitor) Object() *heap.Object {
	return m.obj
}

// WaitObject implements thread.Waitable.
func (m *Monitor) WaitObject() *heap.Object {
	return m.obj
}

// Index returns the table index stored in the fat lock word, 0 for a
// monitor outside any list.
func (m *Monitor) Index() uint32 {
	return m.index
}

// Waiters returns the wait set in queue order.
func (m *Monitor) Waiters() []*thread.Thread {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	return m.waitSet.Snapshot()
}

// OwnerLocation returns where the owner acquired the lock, if recorded.
func (m *Monitor) OwnerLocation() thread.Location {
	if p := m.ownerLoc.Load(); p != nil {
		return *p
	}
	return thread.Location{}
}

func (m *Monitor) String() string {
	return fmt.Sprintf("monitor#%d%v", m.index, m.obj)
}

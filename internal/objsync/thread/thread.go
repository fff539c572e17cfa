// Package thread models the runtime threads that own and wait on monitors.
//
// A Thread is the unit of lock ownership: it carries the small integer id
// stored in thin lock words, the private wait mutex and wake signal used to
// park inside a monitor wait, the interrupt flag, and the run status the
// scheduler consults when it needs a thread stopped. Threads are allocated
// from a List, which also provides goroutine binding and cooperative
// suspension.
//
// Parking protocol:
//
//	waiter:                          notifier / interrupter:
//	  lock waitMu                      lock waitMu
//	  waitMonitor = m                  if waitMonitor != nil: wake <- {}
//	  release monitor mutex            unlock waitMu
//	  unlock waitMu; block on wake
//	  lock waitMu; waitMonitor = nil
//
// A signal sent after the monitor mutex is released always finds
// waitMonitor set, and the one-slot wake channel keeps it until the waiter
// blocks, so no wakeup is lost.
package thread

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/deadline"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
)

// Location is a source position reported by the interpreter.
type Location struct {
	File string
	Line int
}

// IsZero reports whether the location is unknown.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

func (l Location) String() string {
	if l.IsZero() {
		return "unknown"
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// Waitable is anything a thread can park on.
type Waitable interface {
	// WaitObject returns the object whose monitor is waited on.
	WaitObject() *heap.Object
}

// Thread is a runtime thread.
type Thread struct {
	id   uint32
	name string
	list *List
	gid  atomic.Int64

	status atomic.Int32
	// suspendCount is guarded by list.suspendMu.
	suspendCount int

	waitMu      sync.Mutex
	wake        chan struct{}
	waitMonitor Waitable
	interrupted bool

	entering  atomic.Pointer[heap.Object]
	locator   atomic.Pointer[func() Location]
	sensitive atomic.Bool
}

func newThread(l *List, id uint32, name string) *Thread {
	t := &Thread{
		id:   id,
		name: name,
		list: l,
		wake: make(chan struct{}, 1),
	}
	if t.name == "" {
		t.name = "Thread-" + strconv.FormatUint(uint64(id), 10)
	}
	return t
}

// ID returns the thread id stored in thin lock words. Never 0.
func (t *Thread) ID() uint32 {
	return t.id
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// String renders the thread as "name#id".
func (t *Thread) String() string {
	if t == nil {
		return "<none>"
	}
	return t.name + "#" + strconv.FormatUint(uint64(t.id), 10)
}

// Status returns the current run status.
func (t *Thread) Status() Status {
	return Status(t.status.Load())
}

// ChangeStatus switches the run status and returns the previous one.
//
// Switching to StatusRunning blocks while a suspension is pending, with the
// thread reported as StatusSuspended in the meantime.
func (t *Thread) ChangeStatus(s Status) Status {
	l := t.list
	l.suspendMu.Lock()
	defer l.suspendMu.Unlock()

	old := Status(t.status.Load())
	if s == StatusRunning {
		for t.suspendCount > 0 {
			t.status.Store(int32(StatusSuspended))
			l.suspendCond.Broadcast()
			l.suspendCond.Wait()
		}
	}
	t.status.Store(int32(s))
	l.suspendCond.Broadcast()
	return old
}

// EnterStatus switches to s and returns a guard restoring the previous
// status.
//
// Example:
//
//	g := self.EnterStatus(thread.StatusMonitor)
//	mu.Lock()
//	g.Exit()
func (t *Thread) EnterStatus(s Status) StatusGuard {
	return StatusGuard{t: t, prev: t.ChangeStatus(s)}
}

// SafePoint lets a pending suspension take effect. Running code that does
// not otherwise block should call it periodically.
func (t *Thread) SafePoint() {
	l := t.list
	l.suspendMu.Lock()
	pending := t.suspendCount > 0
	l.suspendMu.Unlock()
	if pending {
		t.ChangeStatus(t.ChangeStatus(StatusSuspended))
	}
}

// Park blocks the thread on w until signaled, interrupted or, if timed,
// until the deadline.
//
// release is called with the wait mutex held and waitMonitor published,
// immediately before blocking; the caller uses it to drop the monitor
// mutex. If the thread already has a pending interrupt, Park returns at
// once without calling release.
//
// Returns:
//   - interrupted: the wake was caused by an interrupt; the flag is cleared
//   - released: release was called
func (t *Thread) Park(w Waitable, release func(), timed bool, until deadline.Timespec) (interrupted, released bool) {
	t.waitMu.Lock()
	t.waitMonitor = w
	if t.interrupted {
		t.interrupted = false
		t.waitMonitor = nil
		t.waitMu.Unlock()
		return true, false
	}
	release()
	t.waitMu.Unlock()

	if timed {
		timer := time.NewTimer(deadline.Until(until))
		select {
		case <-t.wake:
		case <-timer.C:
		}
		timer.Stop()
	} else {
		<-t.wake
	}

	t.waitMu.Lock()
	t.waitMonitor = nil
	select {
	case <-t.wake:
	default:
	}
	interrupted = t.interrupted
	t.interrupted = false
	t.waitMu.Unlock()
	return interrupted, true
}

// Signal wakes the thread if it is parked. It reports whether it was.
func (t *Thread) Signal() bool {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	if t.waitMonitor == nil {
		return false
	}
	t.signalLocked()
	return true
}

func (t *Thread) signalLocked() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Interrupt sets the interrupt flag and wakes the thread if it is parked.
// Interrupting an already interrupted thread does nothing.
func (t *Thread) Interrupt() {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	if t.interrupted {
		return
	}
	t.interrupted = true
	if t.waitMonitor != nil {
		t.signalLocked()
	}
}

// Interrupted reads and clears the interrupt flag.
func (t *Thread) Interrupted() bool {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	was := t.interrupted
	t.interrupted = false
	return was
}

// IsInterrupted reads the interrupt flag without clearing it.
func (t *Thread) IsInterrupted() bool {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	return t.interrupted
}

// WaitMonitor returns what the thread is parked on, or nil.
func (t *Thread) WaitMonitor() Waitable {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	return t.waitMonitor
}

// SetEntering records the object the thread is blocked trying to lock.
// Pass nil when the attempt ends.
func (t *Thread) SetEntering(o *heap.Object) {
	t.entering.Store(o)
}

// EnteringObject returns the object the thread is blocked trying to lock,
// or nil.
func (t *Thread) EnteringObject() *heap.Object {
	return t.entering.Load()
}

// SetLocator installs the interpreter hook reporting the current source
// location. nil removes it.
func (t *Thread) SetLocator(fn func() Location) {
	if fn == nil {
		t.locator.Store(nil)
		return
	}
	t.locator.Store(&fn)
}

// HasLocator reports whether a locator is installed.
func (t *Thread) HasLocator() bool {
	return t.locator.Load() != nil
}

// Locate returns the current source location, or the zero Location.
func (t *Thread) Locate() Location {
	fn := t.locator.Load()
	if fn == nil {
		return Location{}
	}
	return (*fn)()
}

// SetSensitive marks the thread as the privileged (UI) thread.
func (t *Thread) SetSensitive(v bool) {
	t.sensitive.Store(v)
}

// Sensitive reports whether the thread is the privileged thread.
func (t *Thread) Sensitive() bool {
	return t.sensitive.Load()
}

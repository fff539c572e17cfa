package vmsync

import (
	"log/slog"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/monitor"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// Wait releases obj's lock and parks self until notified, interrupted or
// timed out; see monitor.Monitor.Wait. A thin lock is inflated first,
// since only a monitor has a wait set.
func (rt *Runtime) Wait(self *thread.Thread, obj *heap.Object, ms int64, ns int32, interruptShouldThrow bool) error {
	w := obj.Header().Load()
	if w.IsThin() {
		if w.Owner() != self.ID() {
			return monitor.NewError(monitor.IllegalMonitorState, "object not locked by thread before wait()")
		}
		if ms < 0 || ns < 0 || ns > 999999 {
			return monitor.NewError(monitor.IllegalArgument, "timeout arguments out of range")
		}
		rt.inflate(self, obj)
		rt.debug("lock fattened by wait", slog.String("thread", self.String()), slog.String("object", obj.String()))
		w = obj.Header().Load()
	}
	return rt.monitorOf(w).Wait(self, ms, ns, interruptShouldThrow)
}

// Notify wakes one thread waiting on obj. A thin lock has no waiters, so
// notifying it only checks ownership.
func (rt *Runtime) Notify(self *thread.Thread, obj *heap.Object) error {
	w := obj.Header().Load()
	if w.IsThin() {
		if w.Owner() != self.ID() {
			return monitor.NewError(monitor.IllegalMonitorState, "object not locked by thread before notify()")
		}
		return nil
	}
	return rt.monitorOf(w).Notify(self)
}

// NotifyAll wakes every thread waiting on obj.
func (rt *Runtime) NotifyAll(self *thread.Thread, obj *heap.Object) error {
	w := obj.Header().Load()
	if w.IsThin() {
		if w.Owner() != self.ID() {
			return monitor.NewError(monitor.IllegalMonitorState, "object not locked by thread before notifyAll()")
		}
		return nil
	}
	return rt.monitorOf(w).NotifyAll(self)
}

// Sleep parks self for ms milliseconds plus ns nanoseconds, returning
// ErrInterrupted early if interrupted.
//
// Sleep parks on a private runtime monitor so that interrupts work the same
// as for Wait. Sleep(0, 0) still goes through the motions of a very short
// sleep instead of waiting forever.
func (rt *Runtime) Sleep(self *thread.Thread, ms int64, ns int32) error {
	if ms == 0 && ns == 0 {
		ns = 1
	}
	return rt.sleepMon.Sleep(self, ms, ns)
}

// Interrupt interrupts t. A parked t wakes up; otherwise its next wait or
// sleep returns at once.
func (rt *Runtime) Interrupt(t *thread.Thread) {
	t.Interrupt()
}

// Interrupted reads and clears self's interrupt flag.
func (rt *Runtime) Interrupted(self *thread.Thread) bool {
	return self.Interrupted()
}

// IsInterrupted reads t's interrupt flag without clearing it.
func (rt *Runtime) IsInterrupted(t *thread.Thread) bool {
	return t.IsInterrupted()
}

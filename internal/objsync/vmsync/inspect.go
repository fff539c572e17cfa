package vmsync

import (
	"strconv"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/lockword"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// lockOwnerID returns the owner thread id encoded by w, 0 if unowned.
func (rt *Runtime) lockOwnerID(w lockword.Word) uint32 {
	if w.IsThin() {
		return w.Owner()
	}
	if owner := rt.monitorOf(w).Owner(); owner != nil {
		return owner.ID()
	}
	return 0
}

// LockOwnerID returns the id of the thread holding obj's lock, 0 if none.
func (rt *Runtime) LockOwnerID(obj *heap.Object) uint32 {
	return rt.lockOwnerID(obj.Header().Load())
}

// HoldsLock reports whether t holds obj's lock. A detached t holds nothing,
// even if a thin word still carries its recycled id.
func (rt *Runtime) HoldsLock(t *thread.Thread, obj *heap.Object) bool {
	if t == nil || obj == nil {
		return false
	}
	return rt.LockHolder(obj) == t
}

// LockHolder returns the thread holding obj's lock, or nil.
func (rt *Runtime) LockHolder(obj *heap.Object) *thread.Thread {
	id := rt.LockOwnerID(obj)
	if id == 0 {
		return nil
	}
	return rt.threads.Lookup(id)
}

// Info describes the state of an object's lock.
type Info struct {
	// Owner holds the lock, nil if unlocked.
	Owner *thread.Thread
	// EntryCount is the number of times Owner has entered, 0 if unlocked.
	EntryCount int
	// Waiters are parked in Wait. Thin locks never have waiters.
	Waiters []*thread.Thread
}

// MonitorInfo returns a snapshot of obj's lock state.
func (rt *Runtime) MonitorInfo(obj *heap.Object) Info {
	w := obj.Header().Load()
	if w.IsThin() {
		var info Info
		if id := w.Owner(); id != 0 {
			info.Owner = rt.threads.Lookup(id)
			info.EntryCount = 1 + int(w.Count())
		}
		return info
	}

	m := rt.monitorOf(w)
	info := Info{Owner: m.Owner(), Waiters: m.Waiters()}
	if info.Owner != nil {
		info.EntryCount = 1 + m.RecursionCount()
	}
	return info
}

// DescribeWait renders what t is blocked on, in thread dump form:
//
//	  - waiting on <0x10000>
//	  - sleeping on <0x10000>
//	  - waiting to lock <0x10000> held by thread 5
//
// It returns "" if t is not blocked on an object.
func (rt *Runtime) DescribeWait(t *thread.Thread) string {
	switch t.Status() {
	case thread.StatusWait, thread.StatusTimedWait, thread.StatusSleeping:
		prefix := "  - waiting on "
		if t.Status() == thread.StatusSleeping {
			prefix = "  - sleeping on "
		}
		var obj *heap.Object
		if w := t.WaitMonitor(); w != nil {
			obj = w.WaitObject()
		}
		return prefix + obj.String()

	case thread.StatusMonitor:
		obj := t.EnteringObject()
		s := "  - waiting to lock " + obj.String()
		if obj != nil {
			if id := rt.LockOwnerID(obj); id != 0 {
				s += " held by thread " + strconv.FormatUint(uint64(id), 10)
			}
		}
		return s
	}
	return ""
}

// ContendedObject returns the object t is blocked trying to lock, else the
// object whose monitor t waits on, else nil.
func (rt *Runtime) ContendedObject(t *thread.Thread) *heap.Object {
	if obj := t.EnteringObject(); obj != nil {
		return obj
	}
	if w := t.WaitMonitor(); w != nil {
		return w.WaitObject()
	}
	return nil
}

// IsValidLockWord reports whether w could appear in a live header: zero and
// unowned thin words are valid, owned thin words must name an attached
// thread, fat words must reference a monitor in the list.
func (rt *Runtime) IsValidLockWord(w lockword.Word) bool {
	if w == 0 {
		return true
	}
	if w.IsThin() {
		return w.Owner() == 0 || rt.threads.Lookup(w.Owner()) != nil
	}
	m := rt.monitors.Lookup(w.MonitorIndex())
	return m != nil && rt.monitors.Contains(m)
}

package vmsync

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/lockword"
	"github.com/kolkov/objmonitor/internal/objsync/monitor"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// Lock acquires obj's lock for self, recursively if self already holds it.
//
// Lock never fails. When another thread holds a thin lock, self spins with
// exponential backoff in StatusMonitor and inflates the lock once it gets
// it.
func (rt *Runtime) Lock(self *thread.Thread, obj *heap.Object) {
	h := obj.Header()
	id := self.ID()

retry:
	w := h.Load()
	if w.IsFat() {
		rt.monitorOf(w).Lock(self)
		return
	}

	switch w.Owner() {
	case id:
		// Only the owner writes an owned thin word.
		w = w.IncCount()
		h.Store(w)
		if w.Saturated() {
			rt.inflate(self, obj)
		}
	case 0:
		if !h.CompareAndSwap(w, w.WithOwner(id)) {
			goto retry
		}
	default:
		if !rt.spin(self, obj) {
			goto retry
		}
		rt.inflate(self, obj)
	}
}

// spin polls a thin lock held by another thread until it is released or
// inflated. It reports whether self acquired the thin lock; false means
// the lock inflated and the caller must retry.
func (rt *Runtime) spin(self *thread.Thread, obj *heap.Object) bool {
	h := obj.Header()
	id := self.ID()
	rt.debug("spin on lock", slog.String("thread", self.String()), slog.String("object", obj.String()))

	sampling := rt.sampler.Enabled()
	var start time.Time
	if sampling {
		start = time.Now()
	}

	g := self.EnterStatus(thread.StatusMonitor)
	self.SetEntering(obj)

	var delay time.Duration
	for {
		w := h.Load()
		if w.IsFat() {
			self.SetEntering(nil)
			g.Exit()
			rt.debug("lock surprise-fattened", slog.String("thread", self.String()), slog.String("object", obj.String()))
			return false
		}
		if w.Owner() == 0 {
			if h.CompareAndSwap(w, w.WithOwner(id)) {
				break
			}
			continue
		}

		if delay == 0 {
			runtime.Gosched()
			delay = rt.spinMin
			continue
		}
		time.Sleep(delay)
		// Wrap instead of settling into once-a-second polls forever.
		if delay < rt.spinMax/2 {
			delay *= 2
		} else {
			delay = rt.spinMin
		}
	}

	self.SetEntering(nil)
	g.Exit()
	rt.debug("spin on lock done", slog.String("thread", self.String()), slog.String("object", obj.String()))

	if sampling {
		// A thin lock records no acquisition site for its owner.
		rt.sampler.Observe(self, time.Since(start), thread.Location{})
	}
	return true
}

// Unlock releases one level of obj's lock.
//
// Returns an IllegalMonitorState error if self does not hold the lock; the
// lock is left unchanged.
func (rt *Runtime) Unlock(self *thread.Thread, obj *heap.Object) error {
	h := obj.Header()
	w := h.Load()
	if w.IsFat() {
		return rt.monitorOf(w).Unlock(self)
	}

	if w.Owner() != self.ID() {
		return monitor.NewError(monitor.IllegalMonitorState, "unlock of unowned monitor")
	}
	if w.Count() == 0 {
		h.Store(w.HashBits())
	} else {
		h.Store(w.DecCount())
	}
	return nil
}

// Inflate promotes self's thin lock on obj to a monitor and returns it.
//
// Inflating a fat lock or a lock self does not hold is a bug and panics.
func (rt *Runtime) Inflate(self *thread.Thread, obj *heap.Object) *monitor.Monitor {
	return rt.inflate(self, obj)
}

func (rt *Runtime) inflate(self *thread.Thread, obj *heap.Object) *monitor.Monitor {
	h := obj.Header()
	w := h.Load()
	if w.IsFat() {
		panic("vmsync: inflating fat lock of " + obj.String())
	}
	if w.Owner() != self.ID() {
		panic("vmsync: inflate of " + obj.String() + " by non-owner " + self.String())
	}

	m := rt.monitors.Create(self, obj, int(w.Count()))

	// The hash state may be merged in concurrently; carry it over.
	for {
		w = h.Load()
		if h.CompareAndSwap(w, lockword.Fat(m.Index(), w.HashState())) {
			break
		}
	}
	rt.debug("lock fattened",
		slog.String("thread", self.String()),
		slog.String("object", obj.String()),
		slog.Uint64("monitor", uint64(m.Index())))
	return m
}

// monitorOf resolves a fat word. A dangling index means heap corruption.
func (rt *Runtime) monitorOf(w lockword.Word) *monitor.Monitor {
	m := rt.monitors.Lookup(w.MonitorIndex())
	if m == nil {
		panic("vmsync: lock word " + w.String() + " references no monitor")
	}
	return m
}

// MonitorOf returns obj's monitor, or nil while the lock is thin.
func (rt *Runtime) MonitorOf(obj *heap.Object) *monitor.Monitor {
	w := obj.Header().Load()
	if w.IsThin() {
		return nil
	}
	return rt.monitorOf(w)
}

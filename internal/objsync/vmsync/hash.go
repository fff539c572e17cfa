package vmsync

import (
	"strconv"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/lockword"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// IdentityHashCode returns obj's identity hash, stable across relocation.
// A nil object hashes to 0.
//
// Until the collector moves a hashed object the hash is its address without
// the alignment bits; afterwards it is the stash word the collector wrote.
// Hashing an unhashed object sets the hash state:
//
//   - in place, if self holds the lock;
//   - by CAS, if the lock is thin and free;
//   - under the monitor mutex, if the lock is fat and free;
//   - otherwise by suspending the owner, then retrying from the top if the
//     owner let go in the meantime.
func (rt *Runtime) IdentityHashCode(self *thread.Thread, obj *heap.Object) uint32 {
	if obj == nil {
		return 0
	}
	h := obj.Header()

	for {
		w := h.Load()
		switch hs := w.HashState(); hs {
		case lockword.Hashed:
			return obj.AddrHash()
		case lockword.HashedAndMoved:
			return obj.Stash()
		case lockword.Unhashed:
		default:
			panic("vmsync: unknown hash state " + hs.String() + " in " + obj.String())
		}

		if rt.lockOwnerID(w) == self.ID() {
			h.MarkHashed(lockword.Hashed)
			return obj.AddrHash()
		}

		if w.IsThin() {
			// Simulated acquire, update and release in one CAS. Only
			// succeeds on an unlocked, unhashed word.
			if h.CompareAndSwap(0, lockword.Thin(0, 0, lockword.Hashed)) {
				return obj.AddrHash()
			}
		} else {
			m := rt.monitorOf(w)
			if m.TryLock(self) {
				h.MarkHashed(lockword.Hashed)
				if err := m.Unlock(self); err != nil {
					panic("vmsync: " + err.Error())
				}
				return obj.AddrHash()
			}
		}

		if rt.hashSuspended(self, obj) {
			return obj.AddrHash()
		}
	}
}

// hashSuspended suspends obj's lock owner and sets the hash state while it
// is stopped. It reports false if the lock changed hands and the caller
// must start over.
func (rt *Runtime) hashSuspended(self *thread.Thread, obj *heap.Object) bool {
	h := obj.Header()
	w := h.Load()

	var owner *thread.Thread
	if w.IsThin() {
		if id := w.Owner(); id != 0 {
			owner = rt.threads.Lookup(id)
			if owner == nil && h.Load() == w {
				panic("vmsync: " + obj.String() + " locked by detached thread " + strconv.FormatUint(uint64(id), 10))
			}
		}
	} else {
		owner = rt.monitorOf(w).Owner()
	}
	if owner == nil || owner == self {
		return false
	}

	resume := rt.threads.Suspend(self, owner)
	defer resume()

	if !rt.HoldsLock(owner, obj) {
		return false
	}
	h.MarkHashed(lockword.Hashed)
	return true
}

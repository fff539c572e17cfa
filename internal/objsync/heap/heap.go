// Package heap is a minimal object heap for the monitor subsystem.
//
// It stands in for the collector-facing half of the runtime: objects carry
// a lock word header, a synthetic address, an instance size and the hash
// stash word the collector writes behind the instance data when it moves a
// hashed object. Relocation, marking and sweeping follow the collector
// contracts the lock word and identity hash protocol rely on.
package heap

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kolkov/objmonitor/internal/objsync/lockword"
)

// Alignment is the object address alignment. The low bits of an address
// are dropped when it is used as an identity hash.
const Alignment = 8

// firstAddr is the first synthetic address handed out.
const firstAddr = 0x10000

// Object is a heap object with an implicit monitor.
type Object struct {
	header lockword.Header
	addr   atomic.Uintptr
	size   uintptr
	stash  atomic.Uint32
	marked atomic.Bool
}

// Header returns the lock word cell.
func (o *Object) Header() *lockword.Header {
	return &o.header
}

// Addr returns the current address. It changes when the object moves.
func (o *Object) Addr() uintptr {
	return o.addr.Load()
}

// Size returns the instance size in bytes.
func (o *Object) Size() uintptr {
	return o.size
}

// AddrHash returns the address-derived identity hash.
func (o *Object) AddrHash() uint32 {
	return uint32(o.Addr() / Alignment)
}

// Stash returns the hash word stored after the instance data.
// Only meaningful once the hash state is HashedAndMoved.
func (o *Object) Stash() uint32 {
	return o.stash.Load()
}

// String renders the object as "<0x10000>".
func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("<%#x>", o.Addr())
}

// Heap owns a set of objects.
//
// Thread Safety: safe for concurrent use. Relocate and Sweep model
// collector phases and must not race with mutators using the same objects.
type Heap struct {
	mu      sync.Mutex
	next    uintptr
	objects map[uintptr]*Object
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		next:    firstAddr,
		objects: make(map[uintptr]*Object),
	}
}

// Alloc allocates an object with the given instance size.
func (h *Heap) Alloc(size uintptr) *Object {
	o := &Object{size: size}

	h.mu.Lock()
	addr := h.bump(size)
	o.addr.Store(addr)
	h.objects[addr] = o
	h.mu.Unlock()

	return o
}

// bump reserves room for an object plus its stash word. Caller holds h.mu.
func (h *Heap) bump(size uintptr) uintptr {
	addr := h.next
	span := (size + 4 + Alignment - 1) &^ (Alignment - 1)
	if span == 0 {
		span = Alignment
	}
	h.next += span
	return addr
}

// ByAddr returns the live object at addr, or nil.
func (h *Heap) ByAddr(addr uintptr) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[addr]
}

// Relocate moves o to a fresh address, as a copying collector would.
//
// If the identity hash has been handed out, the pre-move hash is written to
// the stash word and the hash state is advanced to HashedAndMoved before
// the address changes, so the hash stays stable. An object that was already
// moved keeps its stash.
func (h *Heap) Relocate(o *Object) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()

	old := o.Addr()
	if o.header.Load().HashState() == lockword.Hashed {
		o.stash.Store(uint32(old / Alignment))
		o.header.MarkHashed(lockword.HashedAndMoved)
	}

	addr := h.bump(o.size)
	delete(h.objects, old)
	o.addr.Store(addr)
	h.objects[addr] = o
	return addr
}

// Mark marks o reachable for the current cycle.
func (h *Heap) Mark(o *Object) {
	o.marked.Store(true)
}

// ClearMarks resets every mark, starting a new cycle.
func (h *Heap) ClearMarks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.objects {
		o.marked.Store(false)
	}
}

// IsUnmarked reports whether o was not marked this cycle.
// This is the predicate the monitor sweep consumes.
func (h *Heap) IsUnmarked(o *Object) bool {
	return !o.marked.Load()
}

// Sweep drops every unmarked object and returns how many were freed.
// Monitors of those objects must be swept first.
func (h *Heap) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for addr, o := range h.objects {
		if !o.marked.Load() {
			delete(h.objects, addr)
			n++
		}
	}
	return n
}

// Len returns the number of live objects.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// Objects returns the live objects ordered by address.
func (h *Heap) Objects() []*Object {
	h.mu.Lock()
	out := make([]*Object, 0, len(h.objects))
	for _, o := range h.objects {
		out = append(out, o)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr() < out[j].Addr() })
	return out
}

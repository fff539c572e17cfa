package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/objmonitor/internal/objsync/lockword"
)

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk [chunkSize]atomic.Pointer[Monitor]

// Table maps the monitor index carried by a fat lock word to its Monitor.
//
// Lookups are lock-free: the chunk directory is replaced copy-on-grow and
// each slot is an atomic pointer. Index 0 is never allocated, so a fat word
// with index 0 is always invalid. Released indices are reused.
//
// Thread Safety: safe for concurrent use.
type Table struct {
	chunks atomic.Pointer[[]*chunk]

	mu   sync.Mutex
	next uint32
	free []uint32
	max  uint32
	live int
}

// NewTable creates a table holding at most max monitors. max is capped at
// the largest index a fat word can carry; 0 means that cap.
func NewTable(max uint32) *Table {
	if max == 0 || max > lockword.MaxMonitorIndex {
		max = lockword.MaxMonitorIndex
	}
	t := &Table{next: 1, max: max}
	empty := []*chunk{}
	t.chunks.Store(&empty)
	return t
}

// Lookup returns the monitor at idx, or nil.
//
//go:nosplit
func (t *Table) Lookup(idx uint32) *Monitor {
	cs := *t.chunks.Load()
	ci := int(idx >> chunkBits)
	if ci >= len(cs) {
		return nil
	}
	return cs[ci][idx&chunkMask].Load()
}

// insert stores m at a fresh index and returns it.
//
// Running out of indices is fatal: no progress is possible without a
// monitor.
func (t *Table) insert(m *Monitor) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if t.next > t.max {
			panic("monitor: out of monitor indices")
		}
		idx = t.next
		t.next++
	}

	cs := *t.chunks.Load()
	ci := int(idx >> chunkBits)
	if ci >= len(cs) {
		grown := make([]*chunk, ci+1)
		copy(grown, cs)
		for i := len(cs); i <= ci; i++ {
			grown[i] = new(chunk)
		}
		t.chunks.Store(&grown)
		cs = grown
	}
	cs[ci][idx&chunkMask].Store(m)
	t.live++
	return idx
}

// release clears idx and makes it reusable.
func (t *Table) release(idx uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := *t.chunks.Load()
	ci := int(idx >> chunkBits)
	if idx == 0 || ci >= len(cs) || cs[ci][idx&chunkMask].Swap(nil) == nil {
		panic("monitor: release of unused index")
	}
	t.free = append(t.free, idx)
	t.live--
}

// Len returns the number of allocated indices.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Package lockword implements the 32-bit lock word stored in every object header.
//
// The lock word has two shapes, selected by bit 0:
//
//	thin: [31 ---- 19] [18 ---- 3] [2 ---- 1] [0]
//	       lock count   thread id  hash state  0
//
//	fat:  [31 ---- 3] [2 ---- 1] [0]
//	       monitor     hash state  1
//
// The hash state sub-field is shared by both shapes and survives inflation.
// The layout is load-bearing: header snapshots and heap dumps reproduce it
// bit for bit.
//
// Word is a pure value type; all encode/decode functions are side-effect
// free. Header wraps a Word in an atomic cell for use inside objects.
package lockword

import (
	"strconv"
	"sync/atomic"
)

// Shape distinguishes thin locks from fat (inflated) locks.
type Shape uint32

const (
	// ShapeThin marks a lock word holding owner and count inline.
	ShapeThin Shape = 0
	// ShapeFat marks a lock word referencing a heavyweight monitor.
	ShapeFat Shape = 1
)

// HashState records whether the identity hash code has been exposed
// and whether the collector has since moved the object.
//
// The values are chosen so that transitions only ever set bits:
// Unhashed(0) -> Hashed(1) -> HashedAndMoved(3).
type HashState uint32

const (
	// Unhashed means no identity hash code has been handed out.
	Unhashed HashState = 0
	// Hashed means the hash code is derived from the current address.
	Hashed HashState = 1
	// HashedAndMoved means the hash code lives in the stash word after
	// the instance data.
	HashedAndMoved HashState = 3
)

// Bit layout constants.
const (
	ShapeMask = 0x1

	HashStateShift = 1
	HashStateMask  = 0x3

	OwnerShift = 3
	OwnerMask  = 0xffff

	CountShift = 19
	CountMask  = 0x1fff

	// MonitorShift positions the monitor index. The low three bits are
	// reused for shape and hash state.
	MonitorShift = 3

	// MaxMonitorIndex is the largest monitor index a fat word can carry.
	MaxMonitorIndex = (1 << (32 - MonitorShift)) - 1

	// MaxOwner is the largest thread id a thin word can carry.
	MaxOwner = OwnerMask
)

// Word is a decoded-on-demand lock word.
type Word uint32

// Thin builds a thin lock word.
//
// owner 0 means unlocked; a non-zero count requires a non-zero owner.
// Values wider than their fields are truncated.
func Thin(owner, count uint32, hs HashState) Word {
	return Word((count&CountMask)<<CountShift |
		(owner&OwnerMask)<<OwnerShift |
		(uint32(hs)&HashStateMask)<<HashStateShift)
}

// Fat builds a fat lock word referencing the monitor with the given index.
func Fat(index uint32, hs HashState) Word {
	return Word(index<<MonitorShift |
		(uint32(hs)&HashStateMask)<<HashStateShift |
		uint32(ShapeFat))
}

// Shape returns the active encoding.
func (w Word) Shape() Shape {
	return Shape(uint32(w) & ShapeMask)
}

// IsThin reports whether w uses the thin encoding.
func (w Word) IsThin() bool {
	return w.Shape() == ShapeThin
}

// IsFat reports whether w uses the fat encoding.
func (w Word) IsFat() bool {
	return w.Shape() == ShapeFat
}

// Owner returns the thin owner thread id (0 means unlocked).
// Only meaningful for thin words.
func (w Word) Owner() uint32 {
	return (uint32(w) >> OwnerShift) & OwnerMask
}

// Count returns the thin recursion count. Only meaningful for thin words.
func (w Word) Count() uint32 {
	return (uint32(w) >> CountShift) & CountMask
}

// MonitorIndex returns the monitor reference. Only meaningful for fat words.
func (w Word) MonitorIndex() uint32 {
	return uint32(w) >> MonitorShift
}

// HashState returns the hash state sub-field.
func (w Word) HashState() HashState {
	return HashState((uint32(w) >> HashStateShift) & HashStateMask)
}

// HashBits returns w with everything except the hash state cleared.
// This is an unlocked thin word carrying the same hash state.
func (w Word) HashBits() Word {
	return w & (HashStateMask << HashStateShift)
}

// WithOwner returns a thin word with the owner field replaced.
func (w Word) WithOwner(owner uint32) Word {
	return w&^(OwnerMask<<OwnerShift) | Word((owner&OwnerMask)<<OwnerShift)
}

// IncCount returns a thin word with the recursion count incremented.
// The caller checks for saturation.
func (w Word) IncCount() Word {
	return w + 1<<CountShift
}

// DecCount returns a thin word with the recursion count decremented.
func (w Word) DecCount() Word {
	return w - 1<<CountShift
}

// MarkHashed returns w with hs merged into the hash state.
//
// Merging only sets bits, so the state never regresses.
//
//go:nosplit
func (w Word) MarkHashed(hs HashState) Word {
	return w | Word((uint32(hs)&HashStateMask)<<HashStateShift)
}

// Saturated reports whether the thin recursion count reached its limit.
func (w Word) Saturated() bool {
	return w.Count() == CountMask
}

// String renders w for diagnostics, e.g. "thin(owner=5 count=2 hashed)".
func (w Word) String() string {
	if w.IsFat() {
		return "fat(monitor=#" + strconv.FormatUint(uint64(w.MonitorIndex()), 10) +
			" " + w.HashState().String() + ")"
	}
	return "thin(owner=" + strconv.FormatUint(uint64(w.Owner()), 10) +
		" count=" + strconv.FormatUint(uint64(w.Count()), 10) +
		" " + w.HashState().String() + ")"
}

// String returns the hash state name.
func (hs HashState) String() string {
	switch hs {
	case Unhashed:
		return "unhashed"
	case Hashed:
		return "hashed"
	case HashedAndMoved:
		return "hashed-and-moved"
	default:
		return "hash-state(" + strconv.FormatUint(uint64(hs), 10) + ")"
	}
}

// Header is the atomic lock word cell embedded in every object.
//
// Mutation rules:
//   - Unowned thin words change only by CompareAndSwap.
//   - The owner of a thin lock updates its own word with Store; no other
//     thread writes a word owned by someone else unless the owner is
//     suspended.
//   - The fat transition is a single Store/CAS publishing a fully built
//     monitor.
//
// The zero value is an unlocked, unhashed thin word.
type Header struct {
	v atomic.Uint32
}

// Load returns the current word.
func (h *Header) Load() Word {
	return Word(h.v.Load())
}

// Store publishes w.
func (h *Header) Store(w Word) {
	h.v.Store(uint32(w))
}

// CompareAndSwap installs new if the current word equals old.
func (h *Header) CompareAndSwap(old, new Word) bool {
	return h.v.CompareAndSwap(uint32(old), uint32(new))
}

// MarkHashed merges hs into the hash state and returns the resulting word.
func (h *Header) MarkHashed(hs HashState) Word {
	for {
		old := h.Load()
		next := old.MarkHashed(hs)
		if old == next || h.CompareAndSwap(old, next) {
			return next
		}
	}
}

package thread

import (
	"sort"
	"sync"

	"github.com/kolkov/objmonitor/internal/objsync/lockword"
)

// MaxThreads is the number of thread ids a thin lock word can carry.
// Id 0 means "unowned" and is never allocated.
const MaxThreads = lockword.MaxOwner

// List is the registry of attached threads.
//
// Thread ids are recycled: an id freed by Detach is reused by a later
// Attach, smallest first.
//
// Thread Safety: all methods are safe for concurrent use.
type List struct {
	mu     sync.Mutex
	byID   map[uint32]*Thread
	nextID uint32
	free   []uint32

	// byGID maps goroutine id to *Thread for Current.
	byGID sync.Map

	// suspendMu guards every Thread.suspendCount and serializes status
	// changes with suspension requests.
	suspendMu   sync.Mutex
	suspendCond *sync.Cond
}

// NewList creates an empty thread list.
func NewList() *List {
	l := &List{
		byID:   make(map[uint32]*Thread),
		nextID: 1,
	}
	l.suspendCond = sync.NewCond(&l.suspendMu)
	return l
}

// Attach registers a new thread in StatusRunning.
//
// An empty name becomes "Thread-<id>". Attach panics when every id in
// [1, MaxThreads] is in use.
func (l *List) Attach(name string) *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()

	var id uint32
	if n := len(l.free); n > 0 {
		id = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		if l.nextID > MaxThreads {
			panic("thread: out of thread ids")
		}
		id = l.nextID
		l.nextID++
	}

	t := newThread(l, id, name)
	l.byID[id] = t
	return t
}

// AttachCurrent attaches a thread and binds it to the calling goroutine.
func (l *List) AttachCurrent(name string) *Thread {
	t := l.Attach(name)
	l.Bind(t)
	return t
}

// Detach unregisters t, moves it to StatusTerminated and releases its id.
//
// A pending Suspend of t returns once t is terminated. t must not be blocked
// on a lock or parked, and must not hold any lock: its id may be handed to
// the next Attach, which would then own the lock words t left behind.
// Detach panics if t is blocked or parked.
func (l *List) Detach(t *Thread) {
	if obj := t.EnteringObject(); obj != nil {
		panic("thread: Detach of " + t.String() + " blocked on " + obj.String())
	}
	if t.WaitMonitor() != nil {
		panic("thread: Detach of parked " + t.String())
	}
	if gid := t.gid.Swap(0); gid != 0 {
		l.byGID.CompareAndDelete(gid, t)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byID[t.id] != t {
		return
	}
	delete(l.byID, t.id)

	// Terminate before the id can be reused, so a suspender that wakes
	// up never confuses t with the id's next owner.
	l.suspendMu.Lock()
	t.status.Store(int32(StatusTerminated))
	l.suspendCond.Broadcast()
	l.suspendMu.Unlock()

	// Keep the free stack sorted descending so the smallest id pops first.
	i := sort.Search(len(l.free), func(i int) bool { return l.free[i] < t.id })
	l.free = append(l.free, 0)
	copy(l.free[i+1:], l.free[i:])
	l.free[i] = t.id
}

// Lookup returns the attached thread with the given id, or nil.
func (l *List) Lookup(id uint32) *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byID[id]
}

// Threads returns the attached threads ordered by id.
func (l *List) Threads() []*Thread {
	l.mu.Lock()
	out := make([]*Thread, 0, len(l.byID))
	for _, t := range l.byID {
		out = append(out, t)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of attached threads.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// Bind associates t with the calling goroutine.
func (l *List) Bind(t *Thread) {
	gid := goroutineID()
	if old := t.gid.Swap(gid); old != 0 && old != gid {
		l.byGID.CompareAndDelete(old, t)
	}
	l.byGID.Store(gid, t)
}

// Current returns the thread bound to the calling goroutine, or nil.
func (l *List) Current() *Thread {
	v, ok := l.byGID.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Thread)
}

// Suspend stops target at its next safe point and returns a function that
// resumes it.
//
// Suspend blocks until target leaves StatusRunning. While blocked, self is
// reported as StatusSuspending so that another thread suspending self is
// not stalled; if self has itself been suspended meanwhile, Suspend waits
// to be resumed before returning. self may be nil for callers outside any
// runtime thread. Suspending self panics.
//
// The returned function is idempotent.
//
// Example:
//
//	resume := threads.Suspend(self, owner)
//	// owner is not touching the heap here
//	resume()
func (l *List) Suspend(self, target *Thread) (resume func()) {
	if self == target {
		panic("thread: Suspend of self")
	}

	l.suspendMu.Lock()
	target.suspendCount++

	var prev Status
	if self != nil {
		prev = Status(self.status.Load())
		self.status.Store(int32(StatusSuspending))
		l.suspendCond.Broadcast()
	}
	for Status(target.status.Load()) == StatusRunning {
		l.suspendCond.Wait()
	}
	if self != nil {
		for prev == StatusRunning && self.suspendCount > 0 {
			self.status.Store(int32(StatusSuspended))
			l.suspendCond.Broadcast()
			l.suspendCond.Wait()
		}
		self.status.Store(int32(prev))
		l.suspendCond.Broadcast()
	}
	l.suspendMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.suspendMu.Lock()
			target.suspendCount--
			l.suspendCond.Broadcast()
			l.suspendMu.Unlock()
		})
	}
}

// SuspendCount returns how many suspensions of t are pending.
func (l *List) SuspendCount(t *Thread) int {
	l.suspendMu.Lock()
	defer l.suspendMu.Unlock()
	return t.suspendCount
}

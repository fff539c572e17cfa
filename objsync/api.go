package objsync

import (
	"io"
	"log/slog"
	"sort"

	"github.com/kolkov/objmonitor/internal/objsync/config"
	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/internal/objsync/headerdump"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/monitor"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
	"github.com/kolkov/objmonitor/internal/objsync/vmsync"
	"github.com/kolkov/objmonitor/internal/objsync/waitgraph"
)

type (
	// Thread is an attached thread of execution.
	Thread = thread.Thread
	// Object is a heap object with a lock word header.
	Object = heap.Object
	// Location is a source position reported by a thread's locator.
	Location = thread.Location
	// MonitorInfo describes the state of an object's lock.
	MonitorInfo = vmsync.Info
	// Config holds the runtime tunables.
	Config = config.Options
	// Event is one sampled lock contention.
	Event = contention.Event
	// Sink receives sampled contention events.
	Sink = contention.Sink
	// Error is the error type returned by lock operations.
	Error = monitor.Error
	// HeaderEntry is one object header in a snapshot.
	HeaderEntry = headerdump.Entry
	// Stats are the contention sampler counters.
	Stats = contention.Stats
)

// Sentinel errors, matched with errors.Is.
var (
	ErrIllegalMonitorState = monitor.ErrIllegalMonitorState
	ErrIllegalArgument     = monitor.ErrIllegalArgument
	ErrInterrupted         = monitor.ErrInterrupted
)

// Options configures a Runtime.
type Options struct {
	// Config holds the tunables. Zero fields take their defaults.
	Config Config

	// Sink receives sampled contention events in addition to the
	// runtime's profile. Only used when Config.LockProfThreshold > 0.
	Sink Sink

	// Logger receives Debug traces. Default: discard.
	Logger *slog.Logger
}

// Runtime is an object heap with per-object monitors.
//
// Thread Safety: safe for concurrent use; each Thread belongs to one
// goroutine.
type Runtime struct {
	vm      *vmsync.Runtime
	heap    *heap.Heap
	profile *contention.ProfileSink
	config  Config
}

// New creates a Runtime.
//
// Returns an error if opts.Config is invalid.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Config
	def := config.Default()
	if cfg.SpinMin == 0 {
		cfg.SpinMin = def.SpinMin
	}
	if cfg.SpinMax == 0 {
		cfg.SpinMax = def.SpinMax
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = def.ProcessName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{heap: heap.New(), config: cfg}

	var sampler *contention.Sampler
	if cfg.LockProfThreshold > 0 {
		r.profile = contention.NewProfileSink()
		var sink Sink = r.profile
		if opts.Sink != nil {
			sink = contention.MultiSink{r.profile, opts.Sink}
		}
		sampler = contention.NewSampler(contention.Config{
			Threshold:   cfg.LockProfThreshold,
			ProcessName: cfg.ProcessName,
			Sink:        sink,
		})
	}

	r.vm = vmsync.New(vmsync.Options{
		Sampler: sampler,
		SpinMin: cfg.SpinMin,
		SpinMax: cfg.SpinMax,
		Logger:  opts.Logger,
	})
	return r, nil
}

// NewFromEnv creates a Runtime configured by OBJSYNC_OPTIONS.
func NewFromEnv() (*Runtime, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return New(Options{Config: cfg})
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config {
	return r.config
}

// Close frees every monitor. The runtime must not be used afterwards.
func (r *Runtime) Close() {
	r.vm.Close()
}

// Attach registers a new thread. An empty name becomes "Thread-<id>".
//
// Panics if all 65535 thread ids are in use.
func (r *Runtime) Attach(name string) *Thread {
	return r.vm.Threads().Attach(name)
}

// AttachCurrent attaches a thread bound to the calling goroutine.
func (r *Runtime) AttachCurrent(name string) *Thread {
	return r.vm.Threads().AttachCurrent(name)
}

// Current returns the thread bound to the calling goroutine, or nil.
func (r *Runtime) Current() *Thread {
	return r.vm.Threads().Current()
}

// Detach unregisters t. Its id may be reused by a later Attach.
//
// Returns ErrIllegalMonitorState, leaving t attached, if t still holds the
// lock of a live object. Panics if t is blocked on a lock or parked.
func (r *Runtime) Detach(t *Thread) error {
	for _, o := range r.heap.Objects() {
		if r.vm.HoldsLock(t, o) {
			return monitor.NewError(monitor.IllegalMonitorState,
				"detach of thread '"+t.String()+"' holding "+o.String())
		}
	}
	r.vm.Threads().Detach(t)
	return nil
}

// Threads returns the attached threads ordered by id.
func (r *Runtime) Threads() []*Thread {
	return r.vm.Threads().Threads()
}

// Alloc allocates an object with size bytes of instance data.
func (r *Runtime) Alloc(size uintptr) *Object {
	return r.heap.Alloc(size)
}

// Objects returns the live objects ordered by address.
func (r *Runtime) Objects() []*Object {
	return r.heap.Objects()
}

// Lock acquires obj's lock for self, blocking until it is available.
// The lock is recursive.
func (r *Runtime) Lock(self *Thread, obj *Object) {
	r.vm.Lock(self, obj)
}

// Unlock releases one level of obj's lock.
//
// Returns ErrIllegalMonitorState if self does not hold the lock.
func (r *Runtime) Unlock(self *Thread, obj *Object) error {
	return r.vm.Unlock(self, obj)
}

// Wait releases obj's lock, blocks until notified, interrupted or timed
// out, and reacquires the lock at its previous recursion depth.
//
// ms == 0 && ns == 0 waits without a timeout. Returns
// ErrIllegalMonitorState if self does not hold the lock,
// ErrIllegalArgument for a negative ms or ns outside [0, 999999], and
// ErrInterrupted if self was interrupted.
func (r *Runtime) Wait(self *Thread, obj *Object, ms int64, ns int32) error {
	return r.vm.Wait(self, obj, ms, ns, true)
}

// Notify wakes one thread waiting on obj.
func (r *Runtime) Notify(self *Thread, obj *Object) error {
	return r.vm.Notify(self, obj)
}

// NotifyAll wakes every thread waiting on obj.
func (r *Runtime) NotifyAll(self *Thread, obj *Object) error {
	return r.vm.NotifyAll(self, obj)
}

// Sleep blocks self for the given time. An interrupt ends the sleep early
// with ErrInterrupted.
func (r *Runtime) Sleep(self *Thread, ms int64, ns int32) error {
	return r.vm.Sleep(self, ms, ns)
}

// Interrupt interrupts t, waking it if it is waiting or sleeping.
func (r *Runtime) Interrupt(t *Thread) {
	r.vm.Interrupt(t)
}

// Interrupted reports and clears self's interrupt flag.
func (r *Runtime) Interrupted(self *Thread) bool {
	return r.vm.Interrupted(self)
}

// IsInterrupted reports t's interrupt flag without clearing it.
func (r *Runtime) IsInterrupted(t *Thread) bool {
	return r.vm.IsInterrupted(t)
}

// IdentityHashCode returns obj's identity hash, stable across Relocate.
func (r *Runtime) IdentityHashCode(self *Thread, obj *Object) uint32 {
	return r.vm.IdentityHashCode(self, obj)
}

// HoldsLock reports whether t holds obj's lock.
func (r *Runtime) HoldsLock(t *Thread, obj *Object) bool {
	return r.vm.HoldsLock(t, obj)
}

// MonitorInfo returns a snapshot of obj's lock state.
func (r *Runtime) MonitorInfo(obj *Object) MonitorInfo {
	return r.vm.MonitorInfo(obj)
}

// DescribeWait renders what t is blocked on, or "" if it is not blocked.
func (r *Runtime) DescribeWait(t *Thread) string {
	return r.vm.DescribeWait(t)
}

// Relocate moves obj to a new address, as a compacting collector would.
func (r *Runtime) Relocate(obj *Object) uintptr {
	return r.heap.Relocate(obj)
}

// Collect frees every object not reachable from roots, together with its
// monitor. Only call while no other thread uses the runtime.
//
// Returns the number of objects and monitors freed.
func (r *Runtime) Collect(roots ...*Object) (objects, monitors int) {
	r.heap.ClearMarks()
	for _, o := range roots {
		r.heap.Mark(o)
	}
	monitors = r.vm.SweepMonitors(r.heap.IsUnmarked)
	objects = r.heap.Sweep()
	return objects, monitors
}

// Monitors returns the number of live monitors.
func (r *Runtime) Monitors() int {
	return r.vm.Monitors().Len()
}

// Deadlocks returns every cycle of threads blocked on each other's locks.
// Each cycle is ordered by thread id.
func (r *Runtime) Deadlocks() [][]*Thread {
	g := waitgraph.Build(r.vm)
	var out [][]*Thread
	for _, nids := range waitgraph.Deadlocks(g) {
		cycle := make([]*Thread, len(nids))
		for i, nid := range nids {
			cycle[i] = g.Threads[nid]
		}
		sort.Slice(cycle, func(i, j int) bool { return cycle[i].ID() < cycle[j].ID() })
		out = append(out, cycle)
	}
	return out
}

// WriteWaitGraph writes the wait-for graph as text.
func (r *Runtime) WriteWaitGraph(w io.Writer) {
	waitgraph.ReportText(w, waitgraph.Build(r.vm))
}

// Headers returns a snapshot of every live object's header word.
func (r *Runtime) Headers() []HeaderEntry {
	return headerdump.Snapshot(r.heap.Objects())
}

// WriteHeaders writes a header snapshot of every live object.
func (r *Runtime) WriteHeaders(w io.Writer) error {
	return headerdump.Write(w, r.Headers())
}

// ContentionStats returns the sampler counters; zero if sampling is off.
func (r *Runtime) ContentionStats() Stats {
	return r.vm.Sampler().Stats()
}

// WriteProfile writes the sampled contentions as a gzipped pprof profile.
// It writes nothing and returns nil when sampling is disabled.
func (r *Runtime) WriteProfile(w io.Writer) error {
	if r.profile == nil {
		return nil
	}
	return r.profile.Write(w)
}

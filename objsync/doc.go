// Package objsync provides per-object monitors: every object can be locked,
// waited on and notified, like a Java object.
//
// Locks start thin: the owner thread id and recursion count live in the
// object's 32-bit header word and are acquired with a single CAS. A lock
// inflates into a heavyweight monitor the first time it is contended, its
// recursion count saturates, or its owner calls Wait. Inflation is one way.
//
// # Quick Start
//
//	rt, err := objsync.New(objsync.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	self := rt.AttachCurrent("main")
//	obj := rt.Alloc(16)
//
//	rt.Lock(self, obj)
//	// ... critical section
//	if err := rt.Unlock(self, obj); err != nil {
//		log.Fatal(err)
//	}
//
// # Threads
//
// Operations name the calling thread explicitly. A [Thread] is attached to
// the runtime with [Runtime.Attach] and must only be used by a single
// goroutine. [Runtime.AttachCurrent] also binds it to the calling
// goroutine so [Runtime.Current] can find it.
//
// # Errors
//
// Misuse is reported as an error, not a panic:
//   - unlocking, waiting on or notifying an object the thread does not
//     hold: [ErrIllegalMonitorState]
//   - a negative or out of range timeout: [ErrIllegalArgument]
//   - an interrupted Wait or Sleep: [ErrInterrupted]
//
// Corrupted internal state panics.
//
// # Configuration
//
// [NewFromEnv] reads the OBJSYNC_OPTIONS environment variable, e.g.
//
//	OBJSYNC_OPTIONS="lock_prof_threshold=500ms spin_min=1ms spin_max=1s"
//
// A positive lock_prof_threshold enables contention sampling. Sampled
// events go to Options.Sink and are aggregated into a pprof profile
// available from [Runtime.WriteProfile].
//
// # Diagnostics
//
//   - [Runtime.Deadlocks] finds cycles of threads blocked on each other's
//     locks.
//   - [Runtime.DescribeWait] renders what a thread is blocked on.
//   - [Runtime.WriteHeaders] writes a bit-exact snapshot of every header
//     word, decoded by "objsync dump".
package objsync

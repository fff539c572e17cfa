// Package vmsync implements object-level synchronization on top of the
// lock word in every object header.
//
// An object starts with a thin lock: owner thread id and recursion count
// packed into its header word, acquired and released with one CAS or one
// store and no allocation. The lock inflates, one way, into a heavyweight
// monitor when:
//
//   - another thread contends for it (the contender spins, then inflates
//     once it wins, since an object that saw contention is likely to see
//     it again),
//   - the recursion count saturates, or
//   - the owner calls Wait.
//
// Runtime also implements the identity hash protocol that shares the
// header's hash state bits: an unhashed object is marked hashed in place,
// by CAS when unlocked, and by suspending the owning thread when it is
// locked by someone else.
//
// Thread Safety: every Runtime method is safe for concurrent use by the
// threads it names. A *thread.Thread must only be used by one goroutine at
// a time, the thread's own.
package vmsync

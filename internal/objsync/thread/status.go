package thread

import "strconv"

// Status is a thread's run state as seen by the scheduler.
//
// Every state other than StatusRunning is a safe point: a thread in such a
// state does not touch object headers, so it counts as suspended for the
// purposes of Suspend.
type Status int32

const (
	// StatusRunning means the thread may mutate the heap.
	StatusRunning Status = iota
	// StatusMonitor means blocked acquiring an object lock.
	StatusMonitor
	// StatusWait means parked in an untimed wait.
	StatusWait
	// StatusTimedWait means parked in a timed wait.
	StatusTimedWait
	// StatusSleeping means parked in sleep.
	StatusSleeping
	// StatusNative means running code that does not touch the heap.
	StatusNative
	// StatusSuspended means stopped at a safe point by Suspend.
	StatusSuspended
	// StatusSuspending means waiting for another thread to stop.
	StatusSuspending
	// StatusTerminated means detached from its list. It never runs again.
	StatusTerminated
)

var statusNames = [...]string{
	StatusRunning:    "running",
	StatusMonitor:    "monitor",
	StatusWait:       "wait",
	StatusTimedWait:  "timed-wait",
	StatusSleeping:   "sleeping",
	StatusNative:     "native",
	StatusSuspended:  "suspended",
	StatusSuspending: "suspending",
	StatusTerminated: "terminated",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// StatusGuard restores a thread's previous status when a blocking region
// ends. Obtain one with Thread.EnterStatus and call Exit exactly once,
// usually with defer.
type StatusGuard struct {
	t    *Thread
	prev Status
}

// Exit restores the status in effect before EnterStatus. A change back to
// StatusRunning honors pending suspension.
func (g StatusGuard) Exit() {
	if g.t != nil {
		g.t.ChangeStatus(g.prev)
	}
}

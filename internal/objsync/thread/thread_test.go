package thread

import (
	"sync"
	"testing"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/deadline"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
)

type waitable struct{ obj *heap.Object }

func (w waitable) WaitObject() *heap.Object { return w.obj }

// waitUntil polls cond until it holds or the test times out.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAttachIDs(t *testing.T) {
	l := NewList()
	a := l.Attach("a")
	b := l.Attach("")
	c := l.Attach("c")

	if a.ID() != 1 || b.ID() != 2 || c.ID() != 3 {
		t.Fatalf("ids = %d %d %d, want 1 2 3", a.ID(), b.ID(), c.ID())
	}
	if b.Name() != "Thread-2" {
		t.Errorf("default name = %q", b.Name())
	}
	if a.String() != "a#1" {
		t.Errorf("String() = %q", a.String())
	}
	if l.Lookup(2) != b {
		t.Error("Lookup(2) did not return b")
	}

	l.Detach(c)
	l.Detach(a)
	if l.Lookup(1) != nil {
		t.Error("detached thread still resolves")
	}
	if got := l.Attach("d").ID(); got != 1 {
		t.Errorf("recycled id = %d, want 1 (smallest free)", got)
	}
	if got := l.Attach("e").ID(); got != 3 {
		t.Errorf("recycled id = %d, want 3", got)
	}
	if got := l.Attach("f").ID(); got != 4 {
		t.Errorf("fresh id = %d, want 4", got)
	}

	ths := l.Threads()
	for i := 1; i < len(ths); i++ {
		if ths[i-1].ID() >= ths[i].ID() {
			t.Fatalf("Threads() not sorted: %v", ths)
		}
	}
}

func TestCurrent(t *testing.T) {
	l := NewList()
	main := l.AttachCurrent("main")
	if l.Current() != main {
		t.Fatal("Current() did not return the bound thread")
	}

	done := make(chan *Thread)
	go func() {
		done <- l.Current()
	}()
	if got := <-done; got != nil {
		t.Errorf("unbound goroutine Current() = %v, want nil", got)
	}

	l.Detach(main)
	if l.Current() != nil {
		t.Error("Current() after Detach is not nil")
	}
}

func TestParseGID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"goroutine 123 [running]:\n", 123},
		{"goroutine 1 [", 1},
		{"goroutine x", 0},
		{"go", 0},
		{"thread 5 [running]", 0},
	}
	for _, tt := range tests {
		if got := parseGID([]byte(tt.in)); got != tt.want {
			t.Errorf("parseGID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStatusGuard(t *testing.T) {
	l := NewList()
	th := l.Attach("t")

	g := th.EnterStatus(StatusMonitor)
	if th.Status() != StatusMonitor {
		t.Fatalf("Status() = %v, want monitor", th.Status())
	}
	inner := th.EnterStatus(StatusNative)
	inner.Exit()
	if th.Status() != StatusMonitor {
		t.Errorf("nested exit restored %v, want monitor", th.Status())
	}
	g.Exit()
	if th.Status() != StatusRunning {
		t.Errorf("Status() = %v, want running", th.Status())
	}
}

// TestParkSignal verifies a signal sent after Park releases reaches it.
func TestParkSignal(t *testing.T) {
	th := NewList().Attach("w")
	w := waitable{}

	parked := make(chan struct{})
	result := make(chan bool)
	go func() {
		interrupted, released := th.Park(w, func() { close(parked) }, false, deadline.Timespec{})
		result <- interrupted || !released
	}()

	<-parked
	if th.WaitMonitor() == nil {
		t.Fatal("WaitMonitor() nil while parked")
	}
	if !th.Signal() {
		t.Fatal("Signal() of parked thread = false")
	}
	if bad := <-result; bad {
		t.Error("Park reported interrupt or no release")
	}
	if th.WaitMonitor() != nil {
		t.Error("WaitMonitor() still set after wake")
	}
	if th.Signal() {
		t.Error("Signal() of running thread = true")
	}
}

func TestParkTimeout(t *testing.T) {
	th := NewList().Attach("w")
	released := false

	start := time.Now()
	interrupted, rel := th.Park(waitable{}, func() { released = true }, true, deadline.Absolute(30, 0))
	elapsed := time.Since(start)

	if interrupted {
		t.Error("timeout reported as interrupt")
	}
	if !rel || !released {
		t.Error("release not called")
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("woke after %v, want ~30ms", elapsed)
	}
}

func TestParkPendingInterrupt(t *testing.T) {
	th := NewList().Attach("w")
	th.Interrupt()
	if !th.IsInterrupted() {
		t.Fatal("IsInterrupted() = false after Interrupt")
	}

	called := false
	interrupted, released := th.Park(waitable{}, func() { called = true }, false, deadline.Timespec{})
	if !interrupted || released || called {
		t.Errorf("Park = (%v, %v), release called %v; want fast interrupted exit", interrupted, released, called)
	}
	if th.IsInterrupted() {
		t.Error("interrupt flag not cleared")
	}
}

func TestInterruptParked(t *testing.T) {
	th := NewList().Attach("w")
	parked := make(chan struct{})
	result := make(chan bool)
	go func() {
		interrupted, _ := th.Park(waitable{}, func() { close(parked) }, false, deadline.Timespec{})
		result <- interrupted
	}()

	<-parked
	th.Interrupt()
	th.Interrupt() // no-op
	if !<-result {
		t.Error("parked thread did not see the interrupt")
	}
	if th.Interrupted() {
		t.Error("flag survived the wake")
	}
}

func TestInterruptedClears(t *testing.T) {
	th := NewList().Attach("t")
	if th.Interrupted() {
		t.Fatal("fresh thread interrupted")
	}
	th.Interrupt()
	if !th.Interrupted() {
		t.Fatal("Interrupted() = false after Interrupt")
	}
	if th.Interrupted() {
		t.Error("Interrupted() did not clear")
	}
}

// TestSuspendWaitsForSafePoint verifies Suspend blocks until the target
// stops running, and that the target cannot return to running until resumed.
func TestSuspendWaitsForSafePoint(t *testing.T) {
	l := NewList()
	self := l.Attach("self")
	target := l.Attach("target")

	stop := make(chan struct{})
	var ran sync.WaitGroup
	ran.Add(1)
	go func() {
		defer ran.Done()
		for {
			select {
			case <-stop:
				return
			default:
				target.SafePoint()
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	resume := l.Suspend(self, target)
	if target.Status() != StatusSuspended {
		t.Errorf("target status = %v, want suspended", target.Status())
	}
	if self.Status() != StatusRunning {
		t.Errorf("self status = %v, want running", self.Status())
	}
	if l.SuspendCount(target) != 1 {
		t.Errorf("SuspendCount = %d, want 1", l.SuspendCount(target))
	}

	resume()
	resume()
	if l.SuspendCount(target) != 0 {
		t.Errorf("SuspendCount after resume = %d, want 0", l.SuspendCount(target))
	}
	waitUntil(t, "target running", func() bool { return target.Status() == StatusRunning })
	close(stop)
	ran.Wait()
}

func TestSuspendNonRunningTarget(t *testing.T) {
	l := NewList()
	target := l.Attach("target")
	g := target.EnterStatus(StatusNative)

	resume := l.Suspend(nil, target)

	back := make(chan struct{})
	go func() {
		g.Exit()
		close(back)
	}()
	select {
	case <-back:
		t.Fatal("target returned to running while suspended")
	case <-time.After(20 * time.Millisecond):
	}

	resume()
	<-back
	if target.Status() != StatusRunning {
		t.Errorf("status = %v, want running", target.Status())
	}
}

// TestDetachEndsSuspend verifies a pending Suspend returns once its
// running target detaches.
func TestDetachEndsSuspend(t *testing.T) {
	l := NewList()
	self := l.Attach("self")
	target := l.Attach("target")

	suspended := make(chan func(), 1)
	go func() { suspended <- l.Suspend(self, target) }()
	waitUntil(t, "self suspending", func() bool { return self.Status() == StatusSuspending })

	l.Detach(target)
	var resume func()
	select {
	case resume = <-suspended:
	case <-time.After(5 * time.Second):
		t.Fatal("Suspend still blocked after target detached")
	}
	resume()

	if target.Status() != StatusTerminated {
		t.Errorf("target status = %v, want terminated", target.Status())
	}
	if self.Status() != StatusRunning {
		t.Errorf("self status = %v, want running", self.Status())
	}
	// A terminated thread counts as stopped right away.
	l.Suspend(self, target)()
}

func TestDetachBlockedPanics(t *testing.T) {
	l := NewList()
	th := l.Attach("t")
	th.SetEntering(&heap.Object{})
	defer func() {
		if recover() == nil {
			t.Error("Detach of a blocked thread did not panic")
		}
		if l.Lookup(th.ID()) != th {
			t.Error("blocked thread was unregistered")
		}
	}()
	l.Detach(th)
}

func TestSuspendSelfPanics(t *testing.T) {
	l := NewList()
	th := l.Attach("t")
	defer func() {
		if recover() == nil {
			t.Error("Suspend(self, self) did not panic")
		}
	}()
	l.Suspend(th, th)
}

func TestLocator(t *testing.T) {
	th := NewList().Attach("t")
	if th.HasLocator() || !th.Locate().IsZero() {
		t.Fatal("fresh thread has a locator")
	}
	th.SetLocator(func() Location { return Location{File: "Main.java", Line: 42} })
	if got := th.Locate(); got.String() != "Main.java:42" {
		t.Errorf("Locate() = %v", got)
	}
	th.SetLocator(nil)
	if th.HasLocator() {
		t.Error("SetLocator(nil) did not remove it")
	}
}

func TestEntering(t *testing.T) {
	h := heap.New()
	o := h.Alloc(8)
	th := NewList().Attach("t")
	th.SetEntering(o)
	if th.EnteringObject() != o {
		t.Error("EnteringObject() mismatch")
	}
	th.SetEntering(nil)
	if th.EnteringObject() != nil {
		t.Error("EnteringObject() not cleared")
	}
}

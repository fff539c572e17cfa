package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

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

func newFixture(t *testing.T, n int) (*Monitor, []*thread.Thread) {
	t.Helper()
	threads := thread.NewList()
	ths := make([]*thread.Thread, n)
	for i := range ths {
		ths[i] = threads.Attach("")
	}
	return New(heap.New().Alloc(16), nil), ths
}

// parked reports whether th is blocked inside a wait on m.
func parked(m *Monitor, th *thread.Thread) bool {
	return th.WaitMonitor() == m
}

func TestLockRecursion(t *testing.T) {
	m, ths := newFixture(t, 2)
	a, b := ths[0], ths[1]

	for i := 0; i < 3; i++ {
		m.Lock(a)
	}
	if m.Owner() != a || m.RecursionCount() != 2 {
		t.Fatalf("owner=%v count=%d, want a and 2", m.Owner(), m.RecursionCount())
	}
	if m.TryLock(b) {
		t.Fatal("TryLock by b succeeded while a holds")
	}

	for i := 0; i < 2; i++ {
		if err := m.Unlock(a); err != nil {
			t.Fatal(err)
		}
		if m.TryLock(b) {
			t.Fatalf("b acquired after %d of 3 unlocks", i+1)
		}
	}
	if err := m.Unlock(a); err != nil {
		t.Fatal(err)
	}
	if m.Owner() != nil {
		t.Errorf("owner after final unlock = %v", m.Owner())
	}
	if !m.TryLock(b) {
		t.Error("TryLock by b failed on free monitor")
	}
}

func TestUnlockNotOwner(t *testing.T) {
	m, ths := newFixture(t, 2)
	a, b := ths[0], ths[1]

	err := m.Unlock(a)
	if !errors.Is(err, ErrIllegalMonitorState) {
		t.Fatalf("Unlock of unowned = %v", err)
	}
	if err.Error() != "illegal monitor state: unlock of unowned monitor" {
		t.Errorf("message = %q", err.Error())
	}

	m.Lock(a)
	err = m.Unlock(b)
	want := "illegal monitor state: unlock of monitor owned by '" + a.Name() + "' on thread '" + b.Name() + "'"
	if err == nil || err.Error() != want {
		t.Errorf("Unlock by non-owner = %v, want %q", err, want)
	}
	if m.Owner() != a || m.RecursionCount() != 0 {
		t.Error("failed unlock changed state")
	}
}

func TestWaitErrors(t *testing.T) {
	m, ths := newFixture(t, 1)
	a := ths[0]

	if err := m.Wait(a, 0, 0, true); !errors.Is(err, ErrIllegalMonitorState) {
		t.Errorf("Wait without lock = %v", err)
	}
	if err := m.Notify(a); !errors.Is(err, ErrIllegalMonitorState) {
		t.Errorf("Notify without lock = %v", err)
	}
	if err := m.NotifyAll(a); !errors.Is(err, ErrIllegalMonitorState) {
		t.Errorf("NotifyAll without lock = %v", err)
	}

	m.Lock(a)
	defer m.Unlock(a)
	tests := []struct {
		ms int64
		ns int32
	}{
		{-1, 0},
		{0, -1},
		{0, 1000000},
	}
	for _, tt := range tests {
		err := m.Wait(a, tt.ms, tt.ns, true)
		if !errors.Is(err, ErrIllegalArgument) {
			t.Errorf("Wait(%d, %d) = %v, want illegal argument", tt.ms, tt.ns, err)
		}
	}
	if m.Owner() != a || len(m.Waiters()) != 0 {
		t.Error("rejected wait changed state")
	}
}

// TestWaitTimeout verifies a timed wait with no notifier returns normally
// with the lock reacquired.
func TestWaitTimeout(t *testing.T) {
	m, ths := newFixture(t, 1)
	a := ths[0]

	m.Lock(a)
	m.Lock(a)
	start := time.Now()
	if err := m.Wait(a, 50, 0, true); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if d := time.Since(start); d < 45*time.Millisecond {
		t.Errorf("returned after %v, want ~50ms", d)
	}
	if m.Owner() != a || m.RecursionCount() != 1 {
		t.Errorf("after wait owner=%v count=%d, want a and 1", m.Owner(), m.RecursionCount())
	}
	if a.IsInterrupted() {
		t.Error("interrupt flag set after timeout")
	}
	if a.Status() != thread.StatusRunning {
		t.Errorf("status = %v, want running", a.Status())
	}
}

// TestWaitReleasesRecursiveHold verifies another thread can take the lock
// while the recursive owner waits, and the depth is restored.
func TestWaitReleasesRecursiveHold(t *testing.T) {
	m, ths := newFixture(t, 2)
	a, b := ths[0], ths[1]

	m.Lock(a)
	m.Lock(a)
	m.Lock(a)

	done := make(chan error)
	go func() {
		done <- m.Wait(a, 0, 0, true)
	}()

	waitUntil(t, "a parked", func() bool { return parked(m, a) })
	if a.Status() != thread.StatusWait {
		t.Errorf("waiter status = %v, want wait", a.Status())
	}
	m.Lock(b)
	if m.RecursionCount() != 0 {
		t.Errorf("b sees count %d, want 0", m.RecursionCount())
	}
	if err := m.Notify(b); err != nil {
		t.Fatal(err)
	}
	if err := m.Unlock(b); err != nil {
		t.Fatal(err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if m.Owner() != a || m.RecursionCount() != 2 {
		t.Errorf("owner=%v count=%d, want a and 2", m.Owner(), m.RecursionCount())
	}
}

// TestNotifyWakesOne verifies notify releases one of K parked threads and
// notifyAll the rest.
func TestNotifyWakesOne(t *testing.T) {
	const k = 4
	m, ths := newFixture(t, k+1)
	owner := ths[k]

	var returned atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		th := ths[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock(th)
			if err := m.Wait(th, 0, 0, true); err != nil {
				t.Errorf("Wait = %v", err)
			}
			returned.Add(1)
			m.Unlock(th)
		}()
	}
	waitUntil(t, "all parked", func() bool {
		for _, th := range ths[:k] {
			if !parked(m, th) {
				return false
			}
		}
		return true
	})

	m.Lock(owner)
	if err := m.Notify(owner); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Waiters()); got != k-1 {
		t.Errorf("waiters after notify = %d, want %d", got, k-1)
	}
	m.Unlock(owner)

	waitUntil(t, "one return", func() bool { return returned.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := returned.Load(); got != 1 {
		t.Fatalf("%d threads returned after one notify", got)
	}

	m.Lock(owner)
	if err := m.NotifyAll(owner); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Waiters()); got != 0 {
		t.Errorf("waiters after notifyAll = %d", got)
	}
	m.Unlock(owner)

	wg.Wait()
	if got := returned.Load(); got != k {
		t.Errorf("returned = %d, want %d", got, k)
	}
}

// TestNotifySkipsTimedOut verifies notify passes over a waiter that timed
// out and is only waiting to reacquire.
func TestNotifySkipsTimedOut(t *testing.T) {
	m, ths := newFixture(t, 3)
	early, late, owner := ths[0], ths[1], ths[2]

	doneEarly := make(chan error, 1)
	go func() {
		m.Lock(early)
		doneEarly <- m.Wait(early, 20, 0, true)
		m.Unlock(early)
	}()
	waitUntil(t, "early parked", func() bool { return parked(m, early) })

	doneLate := make(chan error, 1)
	go func() {
		m.Lock(late)
		doneLate <- m.Wait(late, 0, 0, true)
		m.Unlock(late)
	}()
	waitUntil(t, "late parked", func() bool { return parked(m, late) })

	m.Lock(owner)
	waitUntil(t, "early timed out", func() bool { return early.EnteringObject() == m.Object() })
	if got := m.Waiters(); len(got) != 2 || got[0] != early {
		t.Fatalf("Waiters() = %v, want [early late]", got)
	}
	if err := m.Notify(owner); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Waiters()); got != 0 {
		t.Errorf("notify left %d waiters, want 0", got)
	}
	m.Unlock(owner)

	if err := <-doneEarly; err != nil {
		t.Fatal(err)
	}
	if err := <-doneLate; err != nil {
		t.Fatal(err)
	}
}

func TestInterruptWhileParked(t *testing.T) {
	m, ths := newFixture(t, 1)
	a := ths[0]

	done := make(chan error)
	go func() {
		m.Lock(a)
		err := m.Wait(a, 0, 0, true)
		m.Unlock(a)
		done <- err
	}()
	waitUntil(t, "a parked", func() bool { return parked(m, a) })

	a.Interrupt()
	err := <-done
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Wait = %v, want interrupted", err)
	}
	if a.IsInterrupted() {
		t.Error("interrupt flag not cleared")
	}
}

func TestInterruptBeforeWait(t *testing.T) {
	m, ths := newFixture(t, 1)
	a := ths[0]
	a.Interrupt()

	m.Lock(a)
	start := time.Now()
	err := m.Wait(a, 10000, 0, true)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Wait = %v, want interrupted", err)
	}
	if time.Since(start) > time.Second {
		t.Error("pending interrupt did not skip blocking")
	}
	if m.Owner() != a {
		t.Error("lock not held after interrupted wait")
	}

	// Without throwing, the flag is still consumed.
	a.Interrupt()
	if err := m.Wait(a, 10000, 0, false); err != nil {
		t.Fatalf("non-throwing Wait = %v", err)
	}
	if a.IsInterrupted() {
		t.Error("flag survived non-throwing wait")
	}
	m.Unlock(a)
}

func TestSleep(t *testing.T) {
	m, ths := newFixture(t, 1)
	a := ths[0]

	start := time.Now()
	if err := m.Sleep(a, 20, 0); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Sleep returned early")
	}
	if m.Owner() != nil {
		t.Error("Sleep left the monitor held")
	}

	done := make(chan error)
	go func() { done <- m.Sleep(a, 10000, 0) }()
	waitUntil(t, "sleeping", func() bool { return a.Status() == thread.StatusSleeping })
	a.Interrupt()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Errorf("interrupted Sleep = %v", err)
	}
}

// TestContentionSampled verifies a blocked Lock reports a contention event
// carrying the previous owner's location.
func TestContentionSampled(t *testing.T) {
	var events []contention.Event
	var mu sync.Mutex
	s := contention.NewSampler(contention.Config{
		Threshold: time.Millisecond,
		Sink: contention.SinkFunc(func(e contention.Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}),
		Rand: func() int { return 0 },
	})

	threads := thread.NewList()
	a, b := threads.Attach("a"), threads.Attach("b")
	a.SetLocator(func() thread.Location { return thread.Location{File: "Owner.java", Line: 1} })
	b.SetLocator(func() thread.Location { return thread.Location{File: "Blocked.java", Line: 2} })
	m := New(heap.New().Alloc(8), s)

	m.Lock(a)
	if got := m.OwnerLocation(); got.File != "Owner.java" {
		t.Errorf("OwnerLocation() = %v", got)
	}
	done := make(chan struct{})
	go func() {
		m.Lock(b)
		m.Unlock(b)
		close(done)
	}()
	waitUntil(t, "b blocked", func() bool { return b.EnteringObject() == m.Object() })
	if b.Status() != thread.StatusMonitor {
		t.Errorf("blocked status = %v, want monitor", b.Status())
	}
	time.Sleep(5 * time.Millisecond)
	m.Unlock(a)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.ThreadName != "b" || e.Location.File != "Blocked.java" || e.OwnerLocation.File != "Owner.java" {
		t.Errorf("event = %+v", e)
	}
	if e.Wait < 5*time.Millisecond {
		t.Errorf("wait = %v, want >= 5ms", e.Wait)
	}
	if b.EnteringObject() != nil {
		t.Error("entering object not cleared")
	}
}

// TestMutualExclusion hammers one monitor from many threads.
func TestMutualExclusion(t *testing.T) {
	const workers, iters = 8, 500
	m, ths := newFixture(t, workers)

	var inside atomic.Int32
	counter := 0
	var wg sync.WaitGroup
	for _, th := range ths {
		th := th
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				m.Lock(th)
				if inside.Add(1) != 1 {
					t.Error("two owners inside")
				}
				counter++
				inside.Add(-1)
				m.Unlock(th)
			}
		}()
	}
	wg.Wait()
	if counter != workers*iters {
		t.Errorf("counter = %d, want %d", counter, workers*iters)
	}
}

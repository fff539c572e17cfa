// Package contention samples lock contention and reports it to event sinks.
//
// When a thread blocks acquiring an object lock for at least the lock
// profiling threshold, the event is always reported; shorter waits are
// reported with a probability proportional to the wait:
//
//	percent = 100                        if wait >= threshold
//	percent = 100 * wait / threshold     otherwise
//
// Sampling is purely observational. A nil *Sampler, a zero threshold or a
// failing sink never changes locking behavior.
package contention

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// Config configures a Sampler.
type Config struct {
	// Threshold is the wait at which every contention is reported.
	// Zero disables sampling.
	Threshold time.Duration

	// ProcessName is copied into every event.
	ProcessName string

	// Sink receives sampled events. Default: NopSink.
	Sink Sink

	// Rand returns a pseudo-random non-negative int. Default: math/rand/v2.
	Rand func() int
}

// Event is one sampled contention.
type Event struct {
	ProcessName string
	// Sensitive is true when the blocked thread is the privileged thread.
	Sensitive  bool
	ThreadName string
	Wait       time.Duration
	// Location is where the blocked thread tried to lock.
	Location thread.Location
	// OwnerLocation is where the previous owner acquired the lock.
	// File is "-" when it equals Location.File.
	OwnerLocation thread.Location
	SamplePercent int
}

// Stats are sampler counters.
type Stats struct {
	// Observed counts contended acquisitions timed by the sampler.
	Observed uint64
	// Sampled counts events delivered to the sink.
	Sampled uint64
	// Dropped counts events whose sink panicked.
	Dropped uint64
}

// Sampler decides which contentions to report.
//
// Thread Safety: safe for concurrent use.
type Sampler struct {
	threshold time.Duration
	process   string
	sink      Sink
	rand      func() int

	observed atomic.Uint64
	sampled  atomic.Uint64
	dropped  atomic.Uint64
}

// NewSampler creates a sampler. It returns nil when cfg.Threshold is not
// positive; every method treats a nil sampler as disabled.
func NewSampler(cfg Config) *Sampler {
	if cfg.Threshold <= 0 {
		return nil
	}
	s := &Sampler{
		threshold: cfg.Threshold,
		process:   cfg.ProcessName,
		sink:      cfg.Sink,
		rand:      cfg.Rand,
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}
	if s.rand == nil {
		s.rand = rand.Int
	}
	return s
}

// Enabled reports whether contended acquisitions should be timed.
func (s *Sampler) Enabled() bool {
	return s != nil
}

// Threshold returns the configured threshold.
func (s *Sampler) Threshold() time.Duration {
	if s == nil {
		return 0
	}
	return s.threshold
}

// SamplePercent returns the reporting probability for wait, in percent.
func (s *Sampler) SamplePercent(wait time.Duration) int {
	if s == nil || wait <= 0 {
		return 0
	}
	if wait >= s.threshold {
		return 100
	}
	return int(100 * wait / s.threshold)
}

// Decide rolls the dice for wait and returns the sample percent and whether
// the event should be reported.
func (s *Sampler) Decide(wait time.Duration) (int, bool) {
	p := s.SamplePercent(wait)
	if p == 0 {
		return 0, false
	}
	return p, s.rand()%100 < p
}

// Observe records a contended acquisition by self that waited for wait.
// owner is where the previous owner acquired the lock, if known.
// It reports whether an event was emitted.
func (s *Sampler) Observe(self *thread.Thread, wait time.Duration, owner thread.Location) bool {
	if s == nil {
		return false
	}
	s.observed.Add(1)

	percent, ok := s.Decide(wait)
	if !ok {
		return false
	}

	loc := s.locate(self)
	if owner.File != "" && owner.File == loc.File {
		owner.File = "-"
	}
	e := Event{
		ProcessName:   s.process,
		Sensitive:     self.Sensitive(),
		ThreadName:    self.Name(),
		Wait:          wait,
		Location:      loc,
		OwnerLocation: owner,
		SamplePercent: percent,
	}
	return s.emit(e)
}

// Locate returns where self is executing: its locator if installed,
// otherwise the first caller outside this runtime.
func (s *Sampler) Locate(self *thread.Thread) thread.Location {
	if s == nil {
		return thread.Location{}
	}
	return s.locate(self)
}

func (s *Sampler) locate(self *thread.Thread) thread.Location {
	if self.HasLocator() {
		return self.Locate()
	}
	return CallerLocation(2)
}

func (s *Sampler) emit(e Event) (ok bool) {
	defer func() {
		if recover() != nil {
			s.dropped.Add(1)
			ok = false
		}
	}()
	s.sink.Emit(e)
	s.sampled.Add(1)
	return true
}

// Stats returns a snapshot of the counters.
func (s *Sampler) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		Observed: s.observed.Load(),
		Sampled:  s.sampled.Load(),
		Dropped:  s.dropped.Load(),
	}
}

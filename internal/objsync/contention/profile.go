package contention

import (
	"io"
	"sort"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// ProfileSink aggregates events into a pprof contention profile with two
// sample values: contentions/count and delay/nanoseconds. Each sample is
// labeled with the blocked thread and the owner's acquisition site, so
// `go tool pprof -tags` splits by either.
type ProfileSink struct {
	mu      sync.Mutex
	samples map[profileKey]*profileValue
}

type profileKey struct {
	loc    thread.Location
	owner  thread.Location
	thread string
}

type profileValue struct {
	count int64
	delay int64
}

// NewProfileSink creates an empty profile sink.
func NewProfileSink() *ProfileSink {
	return &ProfileSink{samples: make(map[profileKey]*profileValue)}
}

// Emit implements Sink.
func (p *ProfileSink) Emit(e Event) {
	k := profileKey{loc: e.Location, owner: e.OwnerLocation, thread: e.ThreadName}

	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.samples[k]
	if v == nil {
		v = &profileValue{}
		p.samples[k] = v
	}
	v.count++
	v.delay += int64(e.Wait)
}

// Len returns the number of distinct samples.
func (p *ProfileSink) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

// Profile builds the profile from the events seen so far.
func (p *ProfileSink) Profile() *profile.Profile {
	p.mu.Lock()
	keys := make([]profileKey, 0, len(p.samples))
	for k := range p.samples {
		keys = append(keys, k)
	}
	vals := make(map[profileKey]profileValue, len(keys))
	for _, k := range keys {
		vals[k] = *p.samples[k]
	}
	p.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.loc != b.loc {
			if a.loc.File != b.loc.File {
				return a.loc.File < b.loc.File
			}
			return a.loc.Line < b.loc.Line
		}
		if a.thread != b.thread {
			return a.thread < b.thread
		}
		return a.owner.String() < b.owner.String()
	})

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "contentions", Unit: "count"},
			{Type: "delay", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "contentions", Unit: "count"},
		Period:     1,
	}

	funcs := make(map[string]*profile.Function)
	locs := make(map[thread.Location]*profile.Location)
	for _, k := range keys {
		v := vals[k]
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{locationFor(prof, funcs, locs, k.loc)},
			Value:    []int64{v.count, v.delay},
			Label: map[string][]string{
				"thread": {k.thread},
				"owner":  {k.owner.String()},
			},
		})
	}
	return prof
}

func locationFor(prof *profile.Profile, funcs map[string]*profile.Function, locs map[thread.Location]*profile.Location, l thread.Location) *profile.Location {
	if loc, ok := locs[l]; ok {
		return loc
	}

	name := l.File
	if name == "" {
		name = "unknown"
	}
	fn, ok := funcs[name]
	if !ok {
		fn = &profile.Function{
			ID:       uint64(len(prof.Function) + 1),
			Name:     name,
			Filename: l.File,
		}
		funcs[name] = fn
		prof.Function = append(prof.Function, fn)
	}

	loc := &profile.Location{
		ID:   uint64(len(prof.Location) + 1),
		Line: []profile.Line{{Function: fn, Line: int64(l.Line)}},
	}
	locs[l] = loc
	prof.Location = append(prof.Location, loc)
	return loc
}

// Write serializes the profile in gzipped protobuf form.
func (p *ProfileSink) Write(w io.Writer) error {
	prof := p.Profile()
	if err := prof.CheckValid(); err != nil {
		return err
	}
	return prof.Write(w)
}

// Package deadline converts relative wait timeouts into absolute instants on
// a monotonic clock.
//
// Timed monitor waits block until an absolute deadline, so the conversion
// must survive wall-clock adjustments, clamp to the largest instant the
// platform can represent, and carry nanosecond overflow into seconds.
package deadline

import "time"

// MaxSec is the largest seconds value a deadline may hold.
// Larger deadlines are clamped to MaxSec, which is effectively "forever".
const MaxSec = 0x7ffffffe

const nsPerSec = int64(time.Second)

// Timespec is an instant on the monotonic clock.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Now returns the current monotonic instant.
func Now() Timespec {
	return now()
}

// Absolute returns the instant ms milliseconds plus ns nanoseconds from now.
//
// Parameters:
//   - ms: relative milliseconds (>= 0)
//   - ns: relative nanoseconds (0..999999)
//
// Returns:
//   - Timespec: clamped absolute deadline
func Absolute(ms int64, ns int32) Timespec {
	return absoluteFrom(Now(), ms, ns)
}

func absoluteFrom(base Timespec, ms int64, ns int32) Timespec {
	sec := ms / 1000
	if base.Sec+sec > MaxSec || base.Sec+sec < base.Sec {
		return Timespec{Sec: MaxSec, Nsec: base.Nsec}
	}

	t := Timespec{
		Sec:  base.Sec + sec,
		Nsec: base.Nsec + (ms%1000)*1000000 + int64(ns),
	}
	// At most one rollover: both addends are below a second.
	if t.Nsec >= nsPerSec {
		t.Sec++
		t.Nsec -= nsPerSec
	}
	if t.Sec > MaxSec {
		t.Sec = MaxSec
	}
	return t
}

// Sub returns t-u.
func (t Timespec) Sub(u Timespec) time.Duration {
	return time.Duration((t.Sec-u.Sec)*nsPerSec + (t.Nsec - u.Nsec))
}

// Until returns the time remaining before t, or 0 if t has passed.
func Until(t Timespec) time.Duration {
	d := t.Sub(Now())
	if d < 0 {
		return 0
	}
	return d
}

// Before reports whether t is earlier than u.
func (t Timespec) Before(u Timespec) bool {
	return t.Sec < u.Sec || (t.Sec == u.Sec && t.Nsec < u.Nsec)
}

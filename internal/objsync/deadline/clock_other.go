//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package deadline

import "time"

// now reads Go's monotonic reading through time.Since.
func now() Timespec {
	d := time.Since(start)
	return Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

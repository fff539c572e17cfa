//go:build linux || darwin || freebsd || netbsd || openbsd

package deadline

import (
	"time"

	"golang.org/x/sys/unix"
)

func now() Timespec {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	return Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

// fallbackNow is used only if the kernel rejects CLOCK_MONOTONIC.
func fallbackNow() Timespec {
	d := time.Since(start)
	return Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

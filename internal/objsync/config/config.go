// Package config holds the tunables of the object monitor runtime.
//
// Options can be set in code or read from the OBJSYNC_OPTIONS environment
// variable, a space-separated list of key=value pairs:
//
//	OBJSYNC_OPTIONS="lock_prof_threshold=500ms spin_min=1ms spin_max=1s process=server"
//
// Duration values accept time.ParseDuration syntax; a bare integer is
// milliseconds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvVar names the environment variable read by FromEnv.
const EnvVar = "OBJSYNC_OPTIONS"

// Defaults for the thin-lock spin schedule.
const (
	DefaultSpinMin = time.Millisecond
	DefaultSpinMax = time.Second
)

// Options configures a runtime.
type Options struct {
	// LockProfThreshold enables contention sampling for waits at least
	// this long (scaled down proportionally for shorter waits).
	// Default: 0 (sampling disabled).
	LockProfThreshold time.Duration

	// SpinMin is the first sleep of the thin-lock backoff.
	// Default: 1ms.
	SpinMin time.Duration

	// SpinMax bounds the backoff; the delay wraps to SpinMin once it
	// reaches half of SpinMax.
	// Default: 1s.
	SpinMax time.Duration

	// ProcessName is reported in contention events.
	// Default: base name of os.Args[0].
	ProcessName string
}

// Default returns the default options.
func Default() Options {
	return Options{
		SpinMin:     DefaultSpinMin,
		SpinMax:     DefaultSpinMax,
		ProcessName: defaultProcessName(),
	}
}

func defaultProcessName() string {
	if len(os.Args) == 0 {
		return ""
	}
	return filepath.Base(os.Args[0])
}

// Parse applies s on top of the defaults and validates the result.
func Parse(s string) (Options, error) {
	opts := Default()
	for _, field := range strings.Fields(s) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Options{}, fmt.Errorf("config: %q: missing '='", field)
		}
		var err error
		switch key {
		case "lock_prof_threshold":
			opts.LockProfThreshold, err = parseDuration(val)
		case "spin_min":
			opts.SpinMin, err = parseDuration(val)
		case "spin_max":
			opts.SpinMax, err = parseDuration(val)
		case "process":
			opts.ProcessName = val
		default:
			return Options{}, fmt.Errorf("config: unknown option %q", key)
		}
		if err != nil {
			return Options{}, fmt.Errorf("config: %s: %w", key, err)
		}
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// FromEnv parses the OBJSYNC_OPTIONS environment variable.
// An unset variable yields the defaults.
func FromEnv() (Options, error) {
	return Parse(os.Getenv(EnvVar))
}

// Validate rejects negative durations and an inverted spin range.
func (o Options) Validate() error {
	switch {
	case o.LockProfThreshold < 0:
		return fmt.Errorf("config: lock_prof_threshold: negative duration %v", o.LockProfThreshold)
	case o.SpinMin <= 0:
		return fmt.Errorf("config: spin_min: must be positive, got %v", o.SpinMin)
	case o.SpinMax <= 0:
		return fmt.Errorf("config: spin_max: must be positive, got %v", o.SpinMax)
	case o.SpinMin > o.SpinMax:
		return fmt.Errorf("config: spin_min %v exceeds spin_max %v", o.SpinMin, o.SpinMax)
	}
	return nil
}

// String renders o in the OBJSYNC_OPTIONS syntax.
func (o Options) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lock_prof_threshold=%v spin_min=%v spin_max=%v", o.LockProfThreshold, o.SpinMin, o.SpinMax)
	if o.ProcessName != "" && !strings.ContainsAny(o.ProcessName, " \t\n") {
		fmt.Fprintf(&b, " process=%s", o.ProcessName)
	}
	return b.String()
}

func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

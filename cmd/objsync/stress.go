package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/config"
	"github.com/kolkov/objmonitor/internal/objsync/contention"
	"github.com/kolkov/objmonitor/objsync"
)

// stressConfig holds the parsed 'stress' arguments.
type stressConfig struct {
	threads int
	objects int
	iters   int
	runtime objsync.Config
	verbose bool
	profile string
	dump    string
}

// parseStressArgs parses 'stress' flags on top of OBJSYNC_OPTIONS.
func parseStressArgs(args []string) (*stressConfig, error) {
	env, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	cfg := &stressConfig{runtime: env}

	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.IntVar(&cfg.threads, "threads", 8, "number of threads")
	fs.IntVar(&cfg.objects, "objects", 4, "number of shared objects")
	fs.IntVar(&cfg.iters, "iters", 1000, "iterations per thread")
	fs.DurationVar(&cfg.runtime.LockProfThreshold, "threshold", env.LockProfThreshold, "lock contention sampling threshold (0 disables)")
	fs.DurationVar(&cfg.runtime.SpinMin, "spin-min", env.SpinMin, "first thin lock backoff sleep")
	fs.DurationVar(&cfg.runtime.SpinMax, "spin-max", env.SpinMax, "thin lock backoff bound")
	fs.BoolVar(&cfg.verbose, "v", false, "log contention events and debug traces to stderr")
	fs.StringVar(&cfg.profile, "profile", "", "write the contention profile to `file`")
	fs.StringVar(&cfg.dump, "dump", "", "write a header snapshot to `file`")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.threads < 1 || cfg.objects < 1 || cfg.iters < 0 {
		return nil, errors.New("-threads and -objects must be positive, -iters non-negative")
	}
	if err := cfg.runtime.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stressResult summarizes a workload run.
type stressResult struct {
	locks     int64
	waits     int64
	notifies  int64
	monitors  int
	deadlocks int
	stats     objsync.Stats
	elapsed   time.Duration
}

func stressCommand(args []string, out io.Writer) error {
	cfg, err := parseStressArgs(args)
	if err != nil {
		return err
	}

	opts := objsync.Options{Config: cfg.runtime}
	if cfg.verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts.Logger = logger
		opts.Sink = contention.NewSlogSink(logger)
	}
	rt, err := objsync.New(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := runStress(rt, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "threads=%d objects=%d iters=%d\n", cfg.threads, cfg.objects, cfg.iters)
	fmt.Fprintf(out, "locks=%d waits=%d notifies=%d\n", res.locks, res.waits, res.notifies)
	fmt.Fprintf(out, "monitors=%d deadlocks=%d elapsed=%v\n", res.monitors, res.deadlocks, res.elapsed.Round(time.Millisecond))
	if cfg.runtime.LockProfThreshold > 0 {
		fmt.Fprintf(out, "contention observed=%d sampled=%d dropped=%d\n",
			res.stats.Observed, res.stats.Sampled, res.stats.Dropped)
	}

	if cfg.profile != "" {
		if err := writeFile(cfg.profile, rt.WriteProfile); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		fmt.Fprintf(out, "profile written to %s\n", cfg.profile)
	}
	if cfg.dump != "" {
		if err := writeFile(cfg.dump, rt.WriteHeaders); err != nil {
			return fmt.Errorf("write header snapshot: %w", err)
		}
		fmt.Fprintf(out, "header snapshot written to %s\n", cfg.dump)
	}
	return nil
}

// runStress runs the workload: every thread increments counters guarded by
// the shared objects, nesting two locks in address order, hashing objects
// and mixing in timed waits and notifies. It verifies no update was lost.
func runStress(rt *objsync.Runtime, cfg *stressConfig) (stressResult, error) {
	objs := make([]*objsync.Object, cfg.objects)
	for i := range objs {
		objs[i] = rt.Alloc(16)
	}
	counters := make([]int, cfg.objects)

	var res stressResult
	start := time.Now()
	var wg sync.WaitGroup
	errc := make(chan error, cfg.threads)

	for w := 0; w < cfg.threads; w++ {
		self := rt.Attach(fmt.Sprintf("worker-%d", w))
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			err := stressWorker(rt, self, w, objs, counters, cfg.iters, &res)
			if err == nil {
				err = rt.Detach(self)
			}
			if err != nil {
				errc <- err
			}
		}(w)
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	close(errc)
	if err := <-errc; err != nil {
		return res, err
	}

	total := 0
	for _, c := range counters {
		total += c
	}
	if want := cfg.threads * cfg.iters; total != want {
		return res, fmt.Errorf("lost updates: counted %d, want %d", total, want)
	}

	res.monitors = rt.Monitors()
	res.deadlocks = len(rt.Deadlocks())
	res.stats = rt.ContentionStats()
	return res, nil
}

func stressWorker(rt *objsync.Runtime, self *objsync.Thread, w int, objs []*objsync.Object, counters []int, iters int, res *stressResult) error {
	for i := 0; i < iters; i++ {
		a := (w + i) % len(objs)
		b := (a + 1 + i%len(objs)) % len(objs)
		if b < a {
			a, b = b, a
		}

		rt.Lock(self, objs[a])
		atomic.AddInt64(&res.locks, 1)
		if b != a {
			rt.Lock(self, objs[b])
			atomic.AddInt64(&res.locks, 1)
		}
		counters[a]++

		switch {
		case i%64 == 0:
			rt.IdentityHashCode(self, objs[b])
		case i%16 == 0:
			if err := rt.Wait(self, objs[b], 1, 0); err != nil {
				return err
			}
			atomic.AddInt64(&res.waits, 1)
		case i%8 == 0:
			if err := rt.NotifyAll(self, objs[b]); err != nil {
				return err
			}
			atomic.AddInt64(&res.notifies, 1)
		}

		if b != a {
			if err := rt.Unlock(self, objs[b]); err != nil {
				return err
			}
		}
		if err := rt.Unlock(self, objs[a]); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

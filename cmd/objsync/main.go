// Package main implements the objsync CLI tool.
//
// The objsync tool exercises and inspects the object monitor runtime:
//
//	objsync stress -threads 8 -iters 10000      # Lock/wait/notify workload
//	objsync dump headers.bin                   # Decode a header snapshot
//	objsync version                            # Show version information
//
// Runtime tunables come from OBJSYNC_OPTIONS, overridden by flags.
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/objmonitor/objsync"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "stress":
		if err := stressCommand(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "dump":
		if err := dumpCommand(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		info := objsync.GetInfo()
		fmt.Printf("objsync version %s (header format %s)\n", info.Version, info.HeaderFormat)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`objsync - per-object monitor runtime tool

USAGE:
    objsync <command> [arguments]

COMMANDS:
    stress     Run a lock/wait/notify workload across threads
    dump       Decode a header snapshot written by 'stress -dump'
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Contended workload with contention sampling
    objsync stress -threads 16 -objects 4 -threshold 1ms -profile lock.pb.gz

    # Snapshot every header and decode it
    objsync stress -dump headers.bin
    objsync dump headers.bin

ENVIRONMENT:
    OBJSYNC_OPTIONS    space-separated key=value tunables:
                       lock_prof_threshold, spin_min, spin_max, process

`)
}

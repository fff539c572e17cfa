package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kolkov/objmonitor/internal/objsync/headerdump"
)

// dumpCommand implements 'objsync dump <file>'.
func dumpCommand(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: objsync dump <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return printDump(f, out)
}

// printDump decodes a header snapshot from r and prints one line per object.
func printDump(r io.Reader, out io.Writer) error {
	entries, err := headerdump.Read(r)
	if err != nil {
		return err
	}

	var thin, fat, locked int
	for _, e := range entries {
		fmt.Fprintln(out, e)
		switch {
		case e.Word.IsFat():
			fat++
		case e.Word.Owner() != 0:
			thin++
			locked++
		default:
			thin++
		}
	}
	fmt.Fprintf(out, "%d objects: %d thin (%d locked), %d fat\n", len(entries), thin, locked, fat)
	return nil
}

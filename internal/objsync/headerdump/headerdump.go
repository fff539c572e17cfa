// Package headerdump reads and writes snapshots of object header words.
//
// A snapshot reproduces the lock word bit for bit, so heap dump tooling can
// decode owners, recursion counts, monitor indices and hash states offline.
//
// Format (all integers little-endian):
//
//	magic    [8]byte  "objhdr\x00\x00"
//	version  uvarint length + semver string, e.g. "v1.0.0"
//	count    uvarint
//	entries  count * (addr uint64, word uint32)
//
// Readers accept any version with the same major and a minor no newer than
// their own.
package headerdump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/mod/semver"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/lockword"
)

// FormatVersion is the version written by Write.
const FormatVersion = "v1.0.0"

const (
	magic = "objhdr\x00\x00"

	// maxVersionLen bounds the version string read from untrusted input.
	maxVersionLen = 64

	entrySize = 8 + 4
)

var (
	// ErrBadMagic is returned when the input is not a header snapshot.
	ErrBadMagic = errors.New("headerdump: bad magic number")
	// ErrVersion is returned for an invalid or incompatible format version.
	ErrVersion = errors.New("headerdump: unsupported format version")
)

// Entry is one object header.
type Entry struct {
	Addr uint64
	Word lockword.Word
}

// Describe renders the decoded word, e.g.
// "thin owner=5 count=2 hash=hashed" or "fat monitor=#3 hash=unhashed".
func (e Entry) Describe() string {
	w := e.Word
	if w.IsFat() {
		return fmt.Sprintf("fat monitor=#%d hash=%s", w.MonitorIndex(), w.HashState())
	}
	return fmt.Sprintf("thin owner=%d count=%d hash=%s", w.Owner(), w.Count(), w.HashState())
}

// String formats e as "0x10000 thin owner=0 count=0 hash=unhashed".
func (e Entry) String() string {
	return fmt.Sprintf("%#x %s", e.Addr, e.Describe())
}

// Snapshot captures the current header words of objs.
//
// Each word is loaded atomically, but the snapshot as a whole is not: locks
// may change between loads.
func Snapshot(objs []*heap.Object) []Entry {
	out := make([]Entry, len(objs))
	for i, o := range objs {
		out[i] = Entry{Addr: uint64(o.Addr()), Word: o.Header().Load()}
	}
	return out
}

// Write encodes entries to w in the current format.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)

	buf := make([]byte, 0, len(magic)+2*binary.MaxVarintLen64+len(FormatVersion))
	buf = append(buf, magic...)
	buf = binary.AppendUvarint(buf, uint64(len(FormatVersion)))
	buf = append(buf, FormatVersion...)
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("headerdump: write header: %w", err)
	}

	var rec [entrySize]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint64(rec[0:], e.Addr)
		binary.LittleEndian.PutUint32(rec[8:], uint32(e.Word))
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("headerdump: write entry: %w", err)
		}
	}
	return bw.Flush()
}

// Read decodes a snapshot from r.
func Read(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)

	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("headerdump: read magic: %w", err)
	}
	if string(hdr) != magic {
		return nil, fmt.Errorf("%w %q", ErrBadMagic, hdr)
	}

	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("headerdump: read version: %w", err)
	}
	if n > maxVersionLen {
		return nil, fmt.Errorf("%w: version length %d", ErrVersion, n)
	}
	version := make([]byte, n)
	if _, err := io.ReadFull(br, version); err != nil {
		return nil, fmt.Errorf("headerdump: read version: %w", err)
	}
	if err := CheckVersion(string(version)); err != nil {
		return nil, err
	}

	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("headerdump: read count: %w", err)
	}

	// Do not trust count for the allocation size.
	entries := make([]Entry, 0, min(count, 1<<16))
	var rec [entrySize]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, fmt.Errorf("headerdump: entry %d truncated: %w", i, err)
		}
		entries = append(entries, Entry{
			Addr: binary.LittleEndian.Uint64(rec[0:]),
			Word: lockword.Word(binary.LittleEndian.Uint32(rec[8:])),
		})
	}
	return entries, nil
}

// CheckVersion reports whether a snapshot written with version v can be
// decoded by this package.
func CheckVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrVersion, v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("%w: %s, want %s.x", ErrVersion, v, semver.Major(FormatVersion))
	}
	if semver.Compare(semver.MajorMinor(v), semver.MajorMinor(FormatVersion)) > 0 {
		return fmt.Errorf("%w: %s is newer than %s", ErrVersion, v, FormatVersion)
	}
	return nil
}

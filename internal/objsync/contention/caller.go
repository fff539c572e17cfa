package contention

import (
	"encoding/binary"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"

	"github.com/kolkov/objmonitor/internal/objsync/thread"
)

// maxCallerFrames bounds the stack walk in CallerLocation.
const maxCallerFrames = 16

// runtimePrefixes identify frames belonging to the monitor runtime itself.
var runtimePrefixes = []string{
	"github.com/kolkov/objmonitor/internal/objsync/",
	"github.com/kolkov/objmonitor/objsync.",
}

// callerCache maps a stack hash to its resolved Location.
var callerCache sync.Map // uint64 -> thread.Location

// CallerLocation returns the first frame above the caller that is not part
// of the monitor runtime. skip counts frames to drop, 0 being the caller of
// CallerLocation. Test files never count as runtime frames.
//
// Results are cached by stack hash, so repeated contention at the same
// site costs one runtime.Callers walk and a map lookup.
func CallerLocation(skip int) thread.Location {
	var pcs [maxCallerFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return thread.Location{}
	}

	key := hashPCs(pcs[:n])
	if v, ok := callerCache.Load(key); ok {
		return v.(thread.Location)
	}

	var loc thread.Location
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !isRuntimeFrame(f) {
			loc = thread.Location{File: f.File, Line: f.Line}
			break
		}
		if !more {
			break
		}
	}

	callerCache.Store(key, loc)
	return loc
}

func isRuntimeFrame(f runtime.Frame) bool {
	if strings.HasSuffix(f.File, "_test.go") {
		return false
	}
	for _, p := range runtimePrefixes {
		if strings.HasPrefix(f.Function, p) {
			return true
		}
	}
	return false
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

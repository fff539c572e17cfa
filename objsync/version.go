package objsync

import (
	"golang.org/x/mod/semver"

	"github.com/kolkov/objmonitor/internal/objsync/headerdump"
)

// Version information for the object monitor runtime.
const (
	// Version is the current version of the runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides build information about the runtime.
type Info struct {
	// Version is the runtime version string.
	Version string

	// LockWord describes the header word layout.
	LockWord string

	// HeaderFormat is the version of the header snapshot format.
	HeaderFormat string
}

// GetInfo returns information about the runtime.
//
// Example:
//
//	info := objsync.GetInfo()
//	fmt.Printf("objsync %s (%s)\n", info.Version, info.LockWord)
func GetInfo() Info {
	return Info{
		Version:      Version,
		LockWord:     "32-bit thin/fat lock word",
		HeaderFormat: headerdump.FormatVersion,
	}
}

// ValidVersion reports whether Version is a well-formed semantic version.
func ValidVersion() bool {
	return semver.IsValid("v" + Version)
}

package tangguh

import (
	"fmt"
	"runtime"
)

// Build metadata. Version tracks the module tags; the rest is stamped via
// -ldflags at release time and stays "unknown" for plain source builds.
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// userAgent identifies the library on the wire. A User-Agent header set by
// the caller wins over it.
var userAgent = "tangguh/" + Version

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return fmt.Sprintf("tangguh %s (commit %s, built %s, %s)",
		Version, GitCommit, BuildDate, GoVersion)
}

// GetVersionInfo returns the build metadata as key/value pairs, ready to
// hand to a structured logger.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": GoVersion,
	}
}

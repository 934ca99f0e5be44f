// Package version carries build information set through ldflags.
package version

import "fmt"

var (
	// Version is the release of lavasync.
	Version = "v0.1.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String formats the build information for -version.
func String() string {
	return fmt.Sprintf("lavasync %s (commit: %s, built: %s)", Version, Commit, Date)
}

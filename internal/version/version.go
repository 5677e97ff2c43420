package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time
	// with -ldflags "-X scratch-registry/internal/version.Version=...".
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders the build information for the version command.
func String() string {
	return fmt.Sprintf("scratchwatch %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}

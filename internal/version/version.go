// Package version carries build metadata stamped by the linker.
package version

import "fmt"

// Set with -ldflags "-X github.com/dkoosis/covgate/internal/version.Version=..."
// by mage build.
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String renders the multi-line version banner.
func String() string {
	return fmt.Sprintf("covgate version %s\nCommit: %s\nBuilt: %s\n", Version, CommitHash, BuildDate)
}

// Package version holds build-time identifiers injected via -ldflags.
package version

// Version and Commit are overridden at build time via:
//
//	-ldflags "-X github.com/cipherloop/tasksync/internal/version.Version=... -X .../Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)

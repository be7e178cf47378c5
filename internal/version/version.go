// Package version holds build metadata for the cograg binary, injected via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/cograg-go/internal/version.Version=v0.4.0 \
//	                    -X github.com/54b3r/cograg-go/internal/version.Commit=abc1234"
package version

import "fmt"

var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the UTC build date in RFC3339.
	BuildDate = "unknown"
)

// String renders all build metadata on one line.
func String() string {
	return fmt.Sprintf("cograg %s (commit %s, built %s)", Version, Commit, BuildDate)
}

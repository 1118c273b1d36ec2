// Package version holds build-time version information for the studyai binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/studyai-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/studyai-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/studyai-go/internal/version.BuildDate=2025-01-01"
//
// Without ldflags the values fall back to readable defaults.
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA of the build. Defaults to "unknown".
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339). Defaults to "unknown".
var BuildDate = "unknown"

// String renders the one-line form printed by `studyai version`.
func String() string {
	return fmt.Sprintf("studyai %s (commit %s, built %s)", Version, Commit, BuildDate)
}

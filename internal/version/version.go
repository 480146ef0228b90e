// Package version provides build-time version information for watchroom.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/watchroom/watchroom/internal/version.Version=x.y.z \
//	                   -X github.com/watchroom/watchroom/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/watchroom/watchroom/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "watchroom"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Short returns the bare version string for cobra's --version flag.
func Short() string {
	return Version
}

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)",
		ApplicationName, Version, Commit, Date, GoVersion)
}

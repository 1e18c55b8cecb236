// Package version provides build version information for geogate.
package version

import (
	"fmt"
	"runtime"
)

// Build information. Overridden at build time via -ldflags.
var (
	BuildVersion = "0.1.0"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns version details as a map for logging and metrics.
func Info() map[string]string {
	return map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("geogate %s (commit %s, built %s, %s)",
		BuildVersion, BuildCommit, BuildDate, runtime.Version())
}

// Package version holds build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X gachavault/internal/version.Version=..." at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// AppName is the product name stamped into exported files and the
// User-Agent header.
const AppName = "GachaVault"

// Info returns a single human-readable version line.
func Info() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", AppName, Version, Commit, Date)
}

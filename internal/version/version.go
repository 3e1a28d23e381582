// Package version provides build version information.
package version

import "github.com/graaaaa/valheim-watcher/internal/appinfo"

// Version is overridden at build time via ldflags.
// Example: go build -ldflags "-X github.com/graaaaa/valheim-watcher/internal/version.Version=0.1.0"
var Version = "dev"

// String returns the current version string.
func String() string {
	return Version
}

// UserAgent identifies outgoing HTTP requests.
func UserAgent() string {
	return appinfo.DirName + "/" + Version
}

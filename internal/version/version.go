// Package version holds build information injected at link time, e.g.
//
//	go build -ldflags "-X llmproxy/internal/version.Version=v1.2.0"
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("llmproxy %s (commit %s, built %s)", Version, Commit, Date)
}

// Package buildinfo exposes the version stamp linked into the opbridge
// binary and the process start time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden with -ldflags "-X github.com/opbridge/opbridge/internal/buildinfo.Version=v0.3.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Info reports the stamped fields and the Go toolchain and platform the
// binary was built for.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// RuntimeInfo is Info plus an "uptime" entry, served by /v1/version.
func RuntimeInfo() map[string]string {
	info := Info()
	info["uptime"] = Uptime().String()
	return info
}

// Uptime is whole seconds since the process started.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

func UserAgent() string { return "opbridge/" + Version }

// String renders "opbridge <version> (<commit>@<branch>) built <time>".
func String() string {
	return fmt.Sprintf("opbridge %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

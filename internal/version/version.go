// Package version reports the esplayer build.
//
// Release builds inject Version, Commit and Date with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/esplayer/internal/version.Version=1.2.0 \
//	                   -X github.com/jmylchreest/esplayer/internal/version.Commit=$(git rev-parse HEAD)"
//
// Otherwise Commit and Date fall back to the VCS stamp the go tool embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ApplicationName is the binary and log application name.
const ApplicationName = "esplayer"

// Set with ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var startedAt = time.Now()

// Info is the JSON form of `esplayer version --json`.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Date      string    `json:"date"`
	Modified  bool      `json:"modified,omitempty"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	StartedAt time.Time `json:"started_at"`
}

type vcsStamp struct {
	revision string
	time     string
	modified bool
}

var readVCS = sync.OnceValue(func() vcsStamp {
	var v vcsStamp
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.time":
			v.time = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
})

// GetInfo returns the build information.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		StartedAt: startedAt,
	}
	vcs := readVCS()
	if info.Commit == "unknown" && vcs.revision != "" {
		info.Commit = vcs.revision
		info.Modified = vcs.modified
	}
	if info.Date == "unknown" && vcs.time != "" {
		info.Date = vcs.time
	}
	return info
}

// Uptime is the time since the process started.
func Uptime() time.Duration {
	return time.Since(startedAt)
}

// shortCommit is the first 8 characters of commit, or "" when unknown.
func shortCommit(commit string) string {
	if commit == "unknown" || len(commit) < 8 {
		return ""
	}
	return commit[:8]
}

// String is the one-line form of `esplayer version`.
func String() string {
	info := GetInfo()
	s := fmt.Sprintf("%s version %s", ApplicationName, info.Version)
	if c := shortCommit(info.Commit); c != "" {
		if info.Modified {
			c += "-dirty"
		}
		s += fmt.Sprintf(" (commit: %s, built: %s)", c, info.Date)
	}
	return s + fmt.Sprintf(" %s %s", info.GoVersion, info.Platform)
}

// Short is the version with the short commit, used for --version and the
// OpenAPI document.
func Short() string {
	info := GetInfo()
	if c := shortCommit(info.Commit); c != "" {
		return fmt.Sprintf("%s (%s)", info.Version, c)
	}
	return info.Version
}

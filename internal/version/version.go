// Package version holds the build metadata stamped into the panel and
// sender binaries.
package version

import (
	"strings"
	"sync/atomic"
)

// Info is the build metadata reported by /api/version and the hello message.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	if i.Commit != "" {
		b.WriteString(" (")
		b.WriteString(shortCommit(i.Commit))
		if i.BuildTime != "" {
			b.WriteString(", ")
			b.WriteString(i.BuildTime)
		}
		b.WriteString(")")
	}
	return b.String()
}

var current atomic.Pointer[Info]

// Set replaces the build metadata. An empty version reads as "dev".
func Set(v Info) {
	if v.Version == "" {
		v.Version = "dev"
	}
	current.Store(&v)
}

// Current returns the build metadata set at startup.
func Current() Info {
	if v := current.Load(); v != nil {
		return *v
	}
	return Info{Version: "dev"}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

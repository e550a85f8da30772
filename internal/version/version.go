// Package version reports which gitpilot build is running.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const fallbackModule = "pkt.systems/gitpilot"

// buildVersion is stamped by release builds:
//
//	go build -ldflags "-X pkt.systems/gitpilot/internal/version.buildVersion=v1.2.3"
var buildVersion = ""

// Build describes the running binary.
type Build struct {
	Module   string
	Version  string
	Revision string
	Time     time.Time
	Dirty    bool
}

// String renders the version, marking uncommitted builds with "+dirty".
func (b Build) String() string {
	if b.Dirty && !strings.HasSuffix(b.Version, "+dirty") {
		return b.Version + "+dirty"
	}
	return b.Version
}

// Clean renders the version without the dirty marker.
func (b Build) Clean() string {
	return strings.TrimSuffix(b.Version, "+dirty")
}

// Read resolves the build from the linker stamp, module metadata, or VCS
// settings, in that order.
func Read() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(info, buildVersion)
}

func resolve(info *debug.BuildInfo, stamped string) Build {
	b := Build{Module: fallbackModule}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			b.Module = path
		}
		b.Revision, b.Time, b.Dirty = vcsSettings(info)
	}
	switch {
	case strings.TrimSpace(stamped) != "":
		b.Version = strings.TrimSpace(stamped)
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		b.Version = info.Main.Version
	case b.Revision != "" && !b.Time.IsZero():
		b.Version = pseudoVersion(b.Time, b.Revision)
	default:
		b.Version = "v0.0.0-unknown"
		b.Dirty = false
	}
	if strings.HasSuffix(b.Version, "+dirty") {
		b.Dirty = true
	}
	return b
}

func vcsSettings(info *debug.BuildInfo) (revision string, at time.Time, dirty bool) {
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			revision = kv.Value
		case "vcs.time":
			at, _ = time.Parse(time.RFC3339, kv.Value)
		case "vcs.modified":
			dirty = kv.Value == "true"
		}
	}
	return revision, at, dirty
}

// pseudoVersion follows the Go module pseudo-version layout for untagged commits.
func pseudoVersion(at time.Time, revision string) string {
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + revision
}

// Module returns the main module path.
func Module() string { return Read().Module }

// Current returns the version without the dirty marker.
func Current() string { return Read().Clean() }

// CurrentWithDirty returns the version including the dirty marker.
func CurrentWithDirty() string { return Read().String() }

// UserAgent identifies gitpilot to GitHub and the code generation APIs.
func UserAgent() string {
	return "gitpilot/" + Current() + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

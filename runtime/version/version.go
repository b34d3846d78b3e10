// Package version reports the bridge build. Variables can be overridden at
// build time using ldflags:
//
//	go build -ldflags "-X github.com/leomancini/ai-phone-firmware/runtime/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	// devVersion is the default version when not set via ldflags
	devVersion = "dev"
	// shortCommitLen is the length of the short commit hash
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
)

// Build-time variables - can be overridden with -ldflags
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Info describes the running build.
type Info struct {
	Version string
	Commit  string
	Built   string
	// Dirty is only derived from build info; ldflags builds never set it.
	Dirty bool
}

// Get collects build details, falling back to module build info for
// anything not set through ldflags.
func Get() Info {
	info := Info{Version: version, Commit: gitCommit, Built: buildDate}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == devVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	if gitCommit != "" {
		return info
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case vcsRevisionKey:
			info.Commit = setting.Value[:min(shortCommitLen, len(setting.Value))]
		case vcsModifiedKey:
			info.Dirty = setting.Value == "true"
		}
	}
	return info
}

// GetVersion returns the current version string.
func GetVersion() string {
	return Get().Version
}

// String renders the multi-line form printed by "voicebridge version".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "voicebridge version %s", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", i.Commit)
		if i.Dirty {
			b.WriteString(" (dirty)")
		}
	}
	if i.Built != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", i.Built)
	}
	return b.String()
}

// LogAttrs returns version details as key-value pairs for the logger.
func (i Info) LogAttrs() []any {
	attrs := []any{"version", i.Version}
	if i.Commit != "" {
		attrs = append(attrs, "commit", i.Commit)
	}
	if i.Dirty {
		attrs = append(attrs, "dirty", true)
	}
	if i.Built != "" {
		attrs = append(attrs, "built", i.Built)
	}
	return attrs
}

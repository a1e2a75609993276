// Package version holds build identification for the ilc binary.
// The variables are meant to be overridden with -ldflags "-X".
package version

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	// Version is the semantic version.
	Version = "0.1.0-dev"
	// GitCommit is the source revision, if known.
	GitCommit = ""
	// BuildDate is an ISO-8601 timestamp, if known.
	BuildDate = ""
)

// String renders the version line. With colored set, the numeric
// components are highlighted.
func String(colored bool) string {
	v := Version
	if colored {
		v = colorize(v)
	}
	var sb strings.Builder
	sb.WriteString("ilc " + v)
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		fmt.Fprintf(&sb, " (%s)", commit)
	}
	if BuildDate != "" {
		sb.WriteString(" built " + BuildDate)
	}
	return sb.String()
}

func colorize(v string) string {
	core, suffix, _ := strings.Cut(v, "-")
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return v
	}
	out := color.New(color.FgYellow, color.Bold).Sprint(parts[0]) + "." +
		color.New(color.FgGreen, color.Bold).Sprint(parts[1]) + "." +
		color.New(color.FgBlue, color.Bold).Sprint(parts[2])
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}

package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestStringPlain(t *testing.T) {
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate })

	Version = "1.2.3"
	GitCommit = "abc123def4567890"
	BuildDate = "2026-01-15T10:30:00Z"

	got := String(false)
	want := "ilc 1.2.3 (abc123def456) built 2026-01-15T10:30:00Z"
	if got != want {
		t.Fatalf("String(false) = %q, want %q", got, want)
	}
}

func TestStringColoredKeepsDigits(t *testing.T) {
	origVersion, origNoColor := Version, color.NoColor
	t.Cleanup(func() { Version, color.NoColor = origVersion, origNoColor })

	color.NoColor = false
	Version = "0.4.1-rc1"
	got := String(true)
	if !strings.Contains(got, "\x1b[") {
		t.Fatalf("expected ANSI escapes in %q", got)
	}
	if !strings.HasSuffix(got, "-rc1") {
		t.Fatalf("pre-release suffix lost: %q", got)
	}
}

func TestStringColoredMalformed(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })
	Version = "dev"
	if got := String(true); got != "ilc dev" {
		t.Fatalf("String(true) = %q", got)
	}
}

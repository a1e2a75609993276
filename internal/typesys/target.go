package typesys

import (
	"fmt"
	"strings"
)

// Arch names a code generation target.
type Arch uint8

const (
	ArchX64 Arch = iota + 1
	ArchX86
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX64:
		return "x64"
	case ArchX86:
		return "x86"
	case ArchARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// Target describes the output architecture and its pointer properties.
type Target struct {
	Arch        Arch
	PointerSize int // bytes
}

func X64() Target   { return Target{Arch: ArchX64, PointerSize: 8} }
func X86() Target   { return Target{Arch: ArchX86, PointerSize: 4} }
func ARM64() Target { return Target{Arch: ArchARM64, PointerSize: 8} }

// ParseTarget converts a target name to a Target. Empty means x64.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "x64", "amd64", "x86_64":
		return X64(), nil
	case "x86", "386", "i386":
		return X86(), nil
	case "arm64", "aarch64":
		return ARM64(), nil
	default:
		return Target{}, fmt.Errorf("invalid target: %q (expected: x64|x86|arm64)", s)
	}
}

func (t Target) String() string { return t.Arch.String() }

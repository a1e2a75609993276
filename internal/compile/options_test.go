package compile

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"ilc/internal/testkit"
)

func TestLoadOptions(t *testing.T) {
	path := testkit.WriteFile(t, "ilc.toml", `
[build]
target = "arm64"
parallelism = 3
shuffle = true
shuffle_seed = 99
compression = "lz4"
roots = ["App.Program"]
metadata = "all"
`)
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if opts.Target != "arm64" || opts.Parallelism != 3 || !opts.Shuffle || opts.ShuffleSeed != 99 {
		t.Fatalf("options = %+v", opts)
	}
	if opts.Compression != "lz4" || opts.Metadata != MetadataAll || !slices.Equal(opts.Roots, []string{"App.Program"}) {
		t.Fatalf("options = %+v", opts)
	}
	if opts.Logger == nil {
		t.Fatalf("logger should default to a no-op logger")
	}
}

func TestLoadOptionsKeepsDefaults(t *testing.T) {
	path := testkit.WriteFile(t, "ilc.toml", "[build]\nparallelism = 2\n")
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	def := DefaultOptions()
	if opts.Compression != def.Compression || opts.Metadata != def.Metadata {
		t.Fatalf("defaults lost: %+v", opts)
	}
}

func TestLoadOptionsErrors(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"missing build", "[other]\nx = 1\n", "missing [build]"},
		{"bad target", "[build]\ntarget = \"mips\"\n", "invalid target"},
		{"bad compression", "[build]\ncompression = \"gzip\"\n", "invalid compression"},
		{"bad metadata", "[build]\nmetadata = \"some\"\n", "invalid metadata mode"},
		{"unknown key", "[build]\nthreads = 4\n", "unknown keys"},
		{"negative parallelism", "[build]\nparallelism = -1\n", "invalid parallelism"},
		{"syntax", "[build\n", "failed to parse TOML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOptions(testkit.WriteFile(t, "ilc.toml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
	_, err := LoadOptions(testkit.WriteFile(t, "ilc.toml", "[other]\n"))
	if !errors.Is(err, ErrBuildSectionMissing) {
		t.Fatalf("err = %v, want ErrBuildSectionMissing", err)
	}
}

// Package compile drives one compilation: it roots the requested types,
// runs marking to a fixpoint, lays out regions, builds the metadata blob
// and emits the object.
package compile

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"ilc/internal/objwriter"
	"ilc/internal/typesys"
)

// MetadataMode selects the metadata policy.
type MetadataMode string

const (
	// MetadataRooted defines the marked named types and references the rest.
	MetadataRooted MetadataMode = "rooted"
	// MetadataAll defines every type the compilation touches.
	MetadataAll MetadataMode = "all"
	// MetadataNone omits the metadata blob.
	MetadataNone MetadataMode = "none"
)

// Options configures a compilation. An empty Target accepts whatever the
// oracle targets.
type Options struct {
	Target      string       `toml:"target"`
	Parallelism int          `toml:"parallelism"`
	Shuffle     bool         `toml:"shuffle"`
	ShuffleSeed uint64       `toml:"shuffle_seed"`
	Compression string       `toml:"compression"`
	Roots       []string     `toml:"roots"`
	Metadata    MetadataMode `toml:"metadata"`

	Logger *zap.Logger `toml:"-"`
}

// ErrBuildSectionMissing reports an options file without [build].
var ErrBuildSectionMissing = errors.New("missing [build]")

func DefaultOptions() Options {
	return Options{
		Parallelism: runtime.GOMAXPROCS(0),
		Compression: objwriter.CompressionZstd.String(),
		Metadata:    MetadataRooted,
		Logger:      zap.NewNop(),
	}
}

type optionsFile struct {
	Build Options `toml:"build"`
}

// LoadOptions reads the [build] table of a TOML file over the defaults.
func LoadOptions(path string) (Options, error) {
	cfg := optionsFile{Build: DefaultOptions()}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Options{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("build") {
		return Options{}, fmt.Errorf("%s: %w", path, ErrBuildSectionMissing)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Options{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Build.Validate(); err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.Build, nil
}

// Validate checks the option values and fills in zero values.
func (o *Options) Validate() error {
	if _, err := typesys.ParseTarget(o.Target); err != nil {
		return err
	}
	if _, err := objwriter.ParseCompression(o.Compression); err != nil {
		return err
	}
	switch o.Metadata {
	case "":
		o.Metadata = MetadataRooted
	case MetadataRooted, MetadataAll, MetadataNone:
	default:
		return fmt.Errorf("invalid metadata mode %q (expected rooted, all or none)", o.Metadata)
	}
	if o.Parallelism < 0 {
		return fmt.Errorf("invalid parallelism %d", o.Parallelism)
	}
	if o.Parallelism == 0 {
		o.Parallelism = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

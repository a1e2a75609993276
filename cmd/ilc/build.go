package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ilc/internal/compile"
	"ilc/internal/typesys"
)

type buildFlags struct {
	output      string
	optionsPath string
	compression string
	parallelism int
	metadata    string
	target      string
	shuffleSeed uint64
	roots       []string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.optionsPath, "options", "", "read build options from the [build] table of a TOML file")
	cmd.Flags().StringVar(&f.compression, "compression", "", "container compression (none|lz4|zstd)")
	cmd.Flags().IntVar(&f.parallelism, "parallelism", 0, "number of marking workers")
	cmd.Flags().StringVar(&f.metadata, "metadata", "", "metadata mode (rooted|all|none)")
	cmd.Flags().StringVar(&f.target, "target", "", "required target (x64|x86|arm64)")
	cmd.Flags().Uint64Var(&f.shuffleSeed, "shuffle-seed", 0, "shuffle the marking order with this seed")
	cmd.Flags().StringSliceVar(&f.roots, "root", nil, "root type (repeatable); overrides the universe roots")
}

// options merges the options file with the flags the user set explicitly.
func (f *buildFlags) options(cmd *cobra.Command) (compile.Options, error) {
	opts := compile.DefaultOptions()
	if f.optionsPath != "" {
		loaded, err := compile.LoadOptions(f.optionsPath)
		if err != nil {
			return compile.Options{}, err
		}
		opts = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("compression") {
		opts.Compression = f.compression
	}
	if flags.Changed("parallelism") {
		opts.Parallelism = f.parallelism
	}
	if flags.Changed("metadata") {
		opts.Metadata = compile.MetadataMode(f.metadata)
	}
	if flags.Changed("target") {
		opts.Target = f.target
	}
	if flags.Changed("shuffle-seed") {
		opts.Shuffle, opts.ShuffleSeed = true, f.shuffleSeed
	}
	if flags.Changed("root") {
		opts.Roots = f.roots
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return compile.Options{}, err
	}
	opts.Logger = logger
	return opts, opts.Validate()
}

// compileUniverse loads a universe file and compiles it with the flags of
// cmd. Roots listed in the options replace the universe's own.
func compileUniverse(cmd *cobra.Command, path string, f *buildFlags) (*compile.Result, *typesys.Universe, error) {
	opts, err := f.options(cmd)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = opts.Logger.Sync() }()

	u, roots, err := typesys.LoadUniverse(path)
	if err != nil {
		return nil, nil, err
	}
	if len(opts.Roots) > 0 {
		if roots, err = compile.ResolveRoots(u, opts.Roots); err != nil {
			return nil, nil, err
		}
	}
	if len(roots) == 0 {
		return nil, nil, fmt.Errorf("%s: no roots (list them under roots or pass --root)", path)
	}

	cleanup, err := setupTracing(cmd)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()
	stopProfiles, err := setupProfiling(cmd)
	if err != nil {
		return nil, nil, err
	}
	defer stopProfiles()

	res, err := compile.Compile(cmd.Context(), u, roots, opts)
	if err != nil {
		return nil, nil, err
	}
	return res, u, nil
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build <universe>",
		Short: "Compile a type universe into an object container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := compileUniverse(cmd, args[0], &flags)
			if err != nil {
				return err
			}
			out := flags.output
			if out == "" {
				out = defaultOutputName(args[0])
			}
			if err := os.WriteFile(out, res.Container, 0o644); err != nil { //nolint:gosec // objects are not secret
				return fmt.Errorf("write %s: %w", out, err)
			}
			if !isQuiet(cmd) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d nodes, %d bytes)\n",
					color.New(color.FgGreen, color.Bold).Sprint("wrote"), out, len(res.Marked), len(res.Container))
				fmt.Fprintf(cmd.OutOrStdout(), "digest %s\n", res.Digest)
			}
			if timings, _ := cmd.Root().PersistentFlags().GetBool("timings"); timings {
				fmt.Fprint(cmd.ErrOrStderr(), res.Timing.Summary())
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output path (default: <universe>.ilo)")
	return cmd
}

func defaultOutputName(universe string) string {
	base := filepath.Base(universe)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".ilo"
}

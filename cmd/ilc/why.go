package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ilc/internal/depgraph"
)

func newWhyCmd() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "why <universe> <symbol>",
		Short: "Explain why a node was marked",
		Long:  `why compiles the universe and prints the dependency chain that first reached the named node, starting at its root`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := compileUniverse(cmd, args[0], &flags)
			if err != nil {
				return err
			}
			var target depgraph.Node
			for _, n := range res.Marked {
				if n.Name() == args[1] {
					target = n
					break
				}
			}
			if target == nil {
				return fmt.Errorf("%s is not marked", args[1])
			}
			printChain(cmd.OutOrStdout(), res.Analyzer.WhyMarked(target))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printChain(w io.Writer, chain []depgraph.Edge) {
	reason := color.New(color.Faint)
	for i, e := range chain {
		fmt.Fprintf(w, "%s%s  %s\n", strings.Repeat("  ", i), e.Target.Name(), reason.Sprintf("(%s)", e.Reason))
	}
}

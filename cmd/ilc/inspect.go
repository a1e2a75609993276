package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ilc/internal/objwriter"
)

func newInspectCmd() *cobra.Command {
	var showRelocs bool
	cmd := &cobra.Command{
		Use:   "inspect <object>",
		Short: "List the sections, symbols and relocations of an object container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			obj, err := objwriter.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			digest, err := obj.Digest()
			if err != nil {
				return err
			}
			printObject(cmd.OutOrStdout(), obj, showRelocs)
			fmt.Fprintf(cmd.OutOrStdout(), "digest %s\n", digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showRelocs, "relocs", false, "also list relocations")
	return cmd
}

func printObject(w io.Writer, obj *objwriter.Object, relocs bool) {
	header := color.New(color.Bold)
	fmt.Fprintf(w, "target %s, %d-byte pointers\n", obj.Target, obj.PointerSize)
	for _, sec := range obj.Sections {
		header.Fprintf(w, "%s", sec.Name)
		fmt.Fprintf(w, "  base %#x  size %d  align %d\n", sec.Base, len(sec.Data), sec.Align)
		for _, sym := range sec.Symbols {
			fmt.Fprintf(w, "  %#08x %6d  %s\n", sec.Base+uint64(sym.Offset), sym.Size, sym.Name) //nolint:gosec // offsets are non-negative
		}
		if !relocs {
			continue
		}
		for _, r := range sec.Relocs {
			fmt.Fprintf(w, "  +%#x %-12s %s", r.Offset, r.Kind, r.Symbol)
			if r.Addend != 0 {
				fmt.Fprintf(w, "%+d", r.Addend)
			}
			fmt.Fprintln(w)
		}
	}
}

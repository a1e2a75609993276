package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ilc/internal/compile"
)

type digestPayload struct {
	Object   string `json:"object"`
	Metadata string `json:"metadata,omitempty"`
	Nodes    int    `json:"nodes"`
}

func newDigestCmd() *cobra.Command {
	var (
		flags  buildFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "digest <universe>",
		Short: "Print the content digest of a compilation without writing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unsupported format %q (must be text or json)", format)
			}
			res, _, err := compileUniverse(cmd, args[0], &flags)
			if err != nil {
				return err
			}
			return renderDigest(cmd.OutOrStdout(), res, format)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	return cmd
}

func renderDigest(w io.Writer, res *compile.Result, format string) error {
	payload := digestPayload{Object: res.Digest.String(), Nodes: len(res.Marked)}
	if res.Metadata != nil {
		sum := res.Factory.MetadataBlob().Digest()
		payload.Metadata = hex.EncodeToString(sum[:])
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	fmt.Fprintf(w, "object   %s\n", payload.Object)
	if payload.Metadata != "" {
		fmt.Fprintf(w, "metadata %s\n", payload.Metadata)
	}
	return nil
}

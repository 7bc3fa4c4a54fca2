package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/buildinfo"
)

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(opts.stdout, opts.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Get()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, info)
	fields := []struct{ label, value string }{
		{"commit", info.Commit},
		{"date", info.Date},
		{"go", info.Go},
		{"platform", info.Platform},
		{"uptime", info.Uptime},
	}
	for _, f := range fields {
		if f.value != "" {
			fmt.Fprintf(w, "  %-10s %s\n", f.label+":", f.value)
		}
	}
	return nil
}

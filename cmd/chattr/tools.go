package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/mcp"
	"github.com/nugget/chattr/internal/tools"
)

type toolsReport struct {
	Tools       []tools.Description `json:"tools"`
	Unavailable map[string]string   `json:"unavailable,omitempty"`
}

func newToolsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List connected tools and their kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd.Context(), opts)
		},
	}
}

func runTools(ctx context.Context, opts *options) error {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cfg)

	reg, err := newRegistry(ctx, cfg, mcp.Sources(cfg.MCP.Servers, logger), events.New(), logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	report := toolsReport{Tools: reg.Descriptions()}
	if report.Tools == nil {
		report.Tools = []tools.Description{}
	}
	if down := reg.Unavailable(); len(down) > 0 {
		report.Unavailable = make(map[string]string, len(down))
		for name, err := range down {
			report.Unavailable[name] = err.Error()
		}
	}

	if opts.jsonOutput() {
		enc := json.NewEncoder(opts.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printTools(opts, report)
	return nil
}

func printTools(opts *options, report toolsReport) {
	st := defaultStyles()
	name := lipgloss.NewStyle().Bold(true).Width(32)
	kind := lipgloss.NewStyle().Width(9)

	if len(report.Tools) == 0 {
		fmt.Fprintln(opts.stdout, st.dim.Render("no tools connected"))
	}
	for _, t := range report.Tools {
		k := kind.Render(t.Kind.String())
		if t.Kind.IsMedia() {
			k = st.media.Inherit(kind).Render(t.Kind.String())
		}
		fmt.Fprintf(opts.stdout, "%s %s %s\n", name.Render(t.Name), k, st.dim.Render(firstLine(t.Description)))
	}

	servers := make([]string, 0, len(report.Unavailable))
	for s := range report.Unavailable {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	for _, s := range servers {
		fmt.Fprintf(opts.stdout, "%s %s: %s\n", st.failed.Render("unavailable"), s, report.Unavailable[s])
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

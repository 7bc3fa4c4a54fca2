package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/config"
	"github.com/nugget/chattr/internal/defaults"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create asset directories and a starter config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(opts.stdout, dir)
		},
	}
}

// runInit lays out a working directory with the default asset
// directories and starter files. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing chattr workspace in %s\n", dir)

	d := config.Default()
	dirs := config.DirectoriesConfig{
		Assets:  filepath.Join(dir, d.Directories.Assets),
		Audio:   filepath.Join(dir, d.Directories.Audio),
		Video:   filepath.Join(dir, d.Directories.Video),
		Prompts: filepath.Join(dir, d.Directories.Prompts),
	}
	if err := dirs.Ensure(); err != nil {
		return err
	}
	dataDir := filepath.Join(dir, d.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}
	for _, p := range []string{dirs.Audio, dirs.Video, dirs.Prompts, dataDir} {
		fmt.Fprintf(w, "  ✓ %s/\n", p)
	}

	files := []struct {
		name    string
		content []byte
	}{
		{"config.yaml", defaults.ConfigYAML},
		{config.MCPFileName, defaults.MCPJSON},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set character.name in config.yaml (or CHARACTER__NAME) and list your MCP servers in mcp.json.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

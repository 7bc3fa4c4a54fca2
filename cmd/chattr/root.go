package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/config"
)

// options carries the global flags and output streams. Each run builds
// its own, so commands share no package-level state.
type options struct {
	configPath string
	envFile    string
	output     string

	stdout io.Writer
	stderr io.Writer
}

func (o *options) jsonOutput() bool {
	return o.output == "json"
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "chattr",
		Short:         "Talk to a historical character backed by MCP tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml (default: auto-discover)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newToolsCmd(opts),
		newInitCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// loadConfig loads the environment file and the config, then validates.
// Without an explicit path a missing config file is fine: defaults and
// environment variables are enough.
func (o *options) loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, "", err
	}

	path, err := config.FindConfig(o.configPath)
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		path = ""
	case err != nil:
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		if path == "" {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger builds the configured logger. Level is already validated.
func (o *options) newLogger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return config.NewLogger(o.stderr, level, cfg.LogFormat)
}

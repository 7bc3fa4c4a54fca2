package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nugget/chattr/internal/api"
	"github.com/nugget/chattr/internal/buildinfo"
	"github.com/nugget/chattr/internal/connwatch"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *options) error {
	cfg, cfgPath, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cfg)
	info := buildinfo.Get()
	logger.Info("starting chattr",
		"version", info.Version,
		"commit", info.Commit,
		"date", info.Date,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"provider", cfg.Model.Provider,
		"character", cfg.Character.Name,
		"memory", cfg.Memory.Backend,
		"mcp_servers", len(cfg.MCP.Servers),
	)

	// SIGINT and SIGTERM cancel the same ctx every component runs under.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	tools := a.registry.Descriptions()
	logger.Info("tools ready",
		"count", len(tools),
		"unavailable", len(a.registry.Unavailable()),
	)

	monitor, err := a.watchServices(ctx, connwatch.DefaultSchedule(), logger)
	if err != nil {
		return err
	}
	defer monitor.Stop()

	server := api.NewServer(api.Config{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		Chat:    a.chat,
		Threads: a.threads,
		Tools:   a.registry,
		Health:  monitor,
		Usage:   a.usage,
		Bus:     a.bus,
		Logger:  logger,
	})
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("chattr stopped")
	return nil
}

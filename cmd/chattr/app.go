package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/config"
	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/mcp"
	"github.com/nugget/chattr/internal/media"
	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/prompts"
	"github.com/nugget/chattr/internal/thread"
	"github.com/nugget/chattr/internal/tools"
	"github.com/nugget/chattr/internal/usage"
)

// SQLite databases under the data directory.
const (
	threadsFile = "threads.db"
	usageFile   = "usage.db"
)

// app holds the components shared by serve and ask.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	llm      llm.Client
	sources  []*mcp.Source
	registry *tools.Registry
	memory   memory.Store
	threads  thread.Store
	usage    *usage.Store
	agent    *agent.Controller
	chat     *chat.Service

	usageEvents <-chan events.Event
	usageDone   chan struct{}
}

// newRegistry builds a registry over the configured MCP servers and
// connects it. Servers that fail to connect are reported on the bus and
// left out.
func newRegistry(ctx context.Context, cfg *config.Config, sources []*mcp.Source, bus *events.Bus, logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.RegistryConfig{
		Kinds:   tools.KindsFromNames(cfg.Tools.Audio, cfg.Tools.Video),
		Timeout: cfg.Turn.ToolTimeout,
		Logger:  logger,
	})
	for _, src := range sources {
		reg.AddSource(src)
	}
	if err := reg.Connect(ctx); err != nil {
		reg.Close()
		return nil, fmt.Errorf("connect tools: %w", err)
	}
	for name, err := range reg.Unavailable() {
		bus.Emit(events.SourceTools, events.KindSourceUnavailable, map[string]any{
			"source": name,
			"error":  err.Error(),
		})
	}
	return reg, nil
}

// newApp wires every component. The caller must Close the result.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, bus: events.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := cfg.Directories.Ensure(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	a.llm, err = llm.New(cfg.Model, logger)
	if err != nil {
		return nil, err
	}

	mem, err := memory.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	a.memory = mem

	a.sources = mcp.Sources(cfg.MCP.Servers, logger)
	a.registry, err = newRegistry(ctx, cfg, a.sources, a.bus, logger)
	if err != nil {
		return nil, err
	}

	assembler, err := prompts.NewAssembler(prompts.AssemblerConfig{
		Persona: prompts.Persona{
			Character:   cfg.Character.Name,
			Description: cfg.Character.Description,
		},
		Memory:          a.memory,
		Timeout:         cfg.Turn.MemoryTimeout,
		Location:        cfg.Location(),
		IncludeDatetime: cfg.Turn.IncludeDatetime,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	a.agent, err = agent.New(agent.Config{
		LLM:           a.llm,
		Model:         cfg.Model.Name,
		Tools:         a.registry,
		Prompt:        assembler,
		Memory:        a.memory,
		Bus:           a.bus,
		Logger:        logger,
		MaxHops:       cfg.Turn.MaxHops,
		ModelTimeout:  cfg.Turn.ModelTimeout,
		MemoryTimeout: cfg.Turn.MemoryTimeout,
	})
	if err != nil {
		return nil, err
	}

	threads, err := thread.NewSQLiteStore(filepath.Join(cfg.DataDir, threadsFile))
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}
	a.threads = threads

	a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, usageFile))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	a.usageEvents = a.bus.Subscribe(256)
	a.usageDone = make(chan struct{})
	go func() {
		defer close(a.usageDone)
		usage.NewRecorder(a.usage, logger).Run(context.WithoutCancel(ctx), a.usageEvents)
	}()

	a.chat, err = chat.New(chat.Config{
		Agent:   a.agent,
		Threads: a.threads,
		Kinds:   a.registry,
		Media: media.NewLocalizer(media.LocalizerConfig{
			AudioDir: cfg.Directories.Audio,
			VideoDir: cfg.Directories.Video,
			Logger:   logger,
		}),
		Bus:    a.bus,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close waits for pending memory and usage writes, then releases every
// component that was opened.
func (a *app) Close() error {
	if a.agent != nil {
		a.agent.Wait()
	}
	if a.usageDone != nil {
		a.bus.Unsubscribe(a.usageEvents)
		<-a.usageDone
	}
	var errs []error
	if a.usage != nil {
		errs = append(errs, a.usage.Close())
	}
	if a.threads != nil {
		errs = append(errs, a.threads.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nugget/chattr/internal/connwatch"
	"github.com/nugget/chattr/internal/events"
)

// modelService is the connwatch name of the model endpoint. MCP servers
// are watched as "mcp:<name>".
const modelService = "model"

var errNotConnected = errors.New("not connected")

// watchServices checks the model endpoint and every configured MCP server
// until ctx ends. Readiness changes are published on the bus.
func (a *app) watchServices(ctx context.Context, schedule connwatch.Schedule, logger *slog.Logger) (*connwatch.Monitor, error) {
	m := connwatch.New(connwatch.Config{
		Schedule: schedule,
		Logger:   logger,
		OnChange: func(name string, err error) {
			if err != nil {
				a.bus.Emit(events.SourceHealth, events.KindServiceDown, map[string]any{
					"service": name,
					"error":   err.Error(),
				})
				return
			}
			a.bus.Emit(events.SourceHealth, events.KindServiceReady, map[string]any{
				"service": name,
			})
		},
	})

	if err := m.Watch(ctx, modelService, a.llm.Ping); err != nil {
		m.Stop()
		return nil, err
	}
	for _, src := range a.sources {
		check := func(ctx context.Context) error {
			c := src.Client()
			if c == nil {
				return errNotConnected
			}
			return c.Ping(ctx)
		}
		if err := m.Watch(ctx, "mcp:"+src.Name(), check); err != nil {
			m.Stop()
			return nil, err
		}
	}
	return m, nil
}

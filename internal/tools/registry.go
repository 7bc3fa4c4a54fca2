package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single tool invocation when RegistryConfig
// leaves Timeout unset.
const DefaultTimeout = time.Minute

// Source provides a batch of tools backed by a remote session, such as
// an MCP server.
type Source interface {
	// Name identifies the source in logs and in Unavailable.
	Name() string
	// Connect establishes the session and returns the tools it offers.
	Connect(ctx context.Context) ([]*Tool, error)
	// Close releases the session.
	Close() error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Kinds maps tool names to their media kind. Tools not listed are
	// Generic.
	Kinds map[string]Kind
	// Timeout bounds each Invoke call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Description is the summary of a registered tool used in prompts and
// listings.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`
	Source      string `json:"source,omitempty"`
}

type registryState int

const (
	stateIdle registryState = iota
	stateConnected
	stateClosed
)

// Registry holds the live set of tools for the turn controller. Sources
// are added before Connect; once connected the tool set is read-only and
// safe to share across concurrent turns.
type Registry struct {
	kinds   map[string]Kind
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.RWMutex
	state       registryState
	tools       map[string]*Tool
	origin      map[string]string
	sources     []Source
	live        []Source
	unavailable map[string]error
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	kinds := make(map[string]Kind, len(cfg.Kinds))
	for name, k := range cfg.Kinds {
		kinds[name] = k
	}
	return &Registry{
		kinds:       kinds,
		timeout:     timeout,
		logger:      logger,
		tools:       make(map[string]*Tool),
		origin:      make(map[string]string),
		unavailable: make(map[string]error),
	}
}

// AddSource queues a source to be connected by Connect.
func (r *Registry) AddSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// validate rejects tools the registry cannot invoke.
func validate(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	return nil
}

// add inserts a tool and resolves its kind. Caller holds r.mu.
func (r *Registry) add(t *Tool, source string) {
	if k, ok := r.kinds[t.Name]; ok {
		t.Kind = k
	}
	r.tools[t.Name] = t
	r.origin[t.Name] = source
}

// Connect establishes every queued source concurrently. A source that
// fails to connect is logged and recorded in Unavailable; the remaining
// tools stay usable. Connect returns an error only when ctx ends or the
// registry has been closed. Calling Connect again is a no-op.
func (r *Registry) Connect(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case stateConnected:
		r.mu.Unlock()
		return nil
	case stateClosed:
		r.mu.Unlock()
		return ErrClosed
	}
	sources := append([]Source(nil), r.sources...)
	r.mu.Unlock()

	type outcome struct {
		tools []*Tool
		err   error
	}
	outcomes := make([]outcome, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			ts, err := src.Connect(ctx)
			outcomes[i] = outcome{tools: ts, err: err}
			if err != nil {
				r.logger.Warn("tool source unavailable",
					"source", src.Name(),
					"error", err,
				)
				return nil
			}
			r.logger.Info("tool source connected",
				"source", src.Name(),
				"tools", len(ts),
				"duration", time.Since(start).Round(time.Millisecond),
			)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		// Close raced with Connect; release what came up.
		for i, src := range sources {
			if outcomes[i].err == nil {
				_ = src.Close()
			}
		}
		return ErrClosed
	}

	// Register in source order so name collisions resolve the same way
	// on every start.
	for i, src := range sources {
		o := outcomes[i]
		if o.err != nil {
			r.unavailable[src.Name()] = o.err
			continue
		}
		r.live = append(r.live, src)
		for _, t := range o.tools {
			if err := validate(t); err != nil {
				r.logger.Warn("invalid tool ignored",
					"source", src.Name(),
					"error", err,
				)
				continue
			}
			if _, exists := r.tools[t.Name]; exists {
				r.logger.Warn("duplicate tool name ignored",
					"tool", t.Name,
					"source", src.Name(),
					"registered_by", r.origin[t.Name],
				)
				continue
			}
			r.add(t, src.Name())
		}
	}
	r.state = stateConnected

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Invoke executes the named tool with a hard timeout. Handlers that do
// not honour ctx are abandoned when the timeout fires.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	state := r.state
	t := r.tools[name]
	r.mu.RUnlock()

	switch state {
	case stateIdle:
		return "", ErrNotConnected
	case stateClosed:
		return "", ErrClosed
	}
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type reply struct {
		out string
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := t.Handler(ctx, args)
		done <- reply{out: out, err: err}
	}()

	select {
	case rep := <-done:
		if rep.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return rep.out, fmt.Errorf("tool %s timed out after %s: %w", name, r.timeout, rep.err)
		}
		return rep.out, rep.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("tool %s timed out after %s", name, r.timeout)
		}
		return "", ctx.Err()
	}
}

// Kind reports the kind of a registered tool. The boolean is false for
// names the registry does not know.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Generic, false
	}
	return t.Kind, true
}

// List returns the tools in OpenAI function-calling format, sorted by
// name.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.sortedNames()
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// Descriptions returns name-sorted summaries of the registered tools.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.sortedNames()
	out := make([]Description, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, Description{
			Name:        t.Name,
			Description: t.Description,
			Kind:        t.Kind,
			Source:      r.origin[name],
		})
	}
	return out
}

// Unavailable returns the sources that failed to connect, keyed by
// source name.
func (r *Registry) Unavailable() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.unavailable))
	for k, v := range r.unavailable {
		out[k] = v
	}
	return out
}

// Close releases every connected source. Subsequent calls return nil.
// Tool metadata stays readable so stored transcripts can still be
// classified.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = stateClosed
	live := r.live
	r.live = nil
	r.mu.Unlock()

	var errs []error
	for _, src := range live {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

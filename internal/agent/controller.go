// Package agent implements the turn controller: the state machine that
// drives one user message through model calls and tool dispatch until
// the model answers without requesting tools.
//
// A turn emits an ordered stream of Events (ModelText, ToolStarted,
// ToolCompleted) through a caller-supplied callback as they happen.
// Tool calls within a hop run one at a time in the order the model
// listed them. A failed tool becomes a failed ToolCompleted and the loop
// continues; a failed model call ends the turn in StateFailed.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/chattr/internal/events"
	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/tools"
)

// Defaults applied by New when Config leaves a field unset.
const (
	DefaultMaxHops       = 10
	DefaultModelTimeout  = 2 * time.Minute
	DefaultMemoryTimeout = 10 * time.Second
)

// ToolSet is the tool registry as seen by the controller.
type ToolSet interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
	List() []map[string]any
	Descriptions() []tools.Description
}

// PromptSource builds the system message for a turn.
type PromptSource interface {
	Assemble(ctx context.Context, query, userID string, available []tools.Description) llm.Message
}

// Config wires a Controller to its collaborators.
type Config struct {
	LLM    llm.Client
	Model  string
	Tools  ToolSet
	Prompt PromptSource
	// Memory receives the write-back after each completed turn. Nil
	// disables write-back.
	Memory memory.Store
	Bus    *events.Bus
	Logger *slog.Logger

	MaxHops       int
	ModelTimeout  time.Duration
	MemoryTimeout time.Duration
}

// Request is one user turn.
type Request struct {
	ThreadID string
	UserID   string
	// History is the thread's prior messages. It is not modified.
	History []llm.Message
	Message string
}

// Result summarizes a finished turn.
type Result struct {
	State   State
	Content string
	// Messages are the messages this turn appended, starting with the
	// user message.
	Messages  []llm.Message
	Hops      int
	ToolCalls int
	Elapsed   time.Duration
}

// Controller runs turns. It holds no per-turn state and is safe for
// concurrent use across threads; callers serialize turns within a
// thread (see ThreadLocks).
type Controller struct {
	llm           llm.Client
	model         string
	tools         ToolSet
	prompt        PromptSource
	memory        memory.Store
	bus           *events.Bus
	logger        *slog.Logger
	maxHops       int
	modelTimeout  time.Duration
	memoryTimeout time.Duration

	writeBacks sync.WaitGroup
}

// New validates cfg and returns a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.LLM == nil {
		return nil, errors.New("agent: model client is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool set is required")
	}
	if cfg.Prompt == nil {
		return nil, errors.New("agent: prompt source is required")
	}
	c := &Controller{
		llm:           cfg.LLM,
		model:         cfg.Model,
		tools:         cfg.Tools,
		prompt:        cfg.Prompt,
		memory:        cfg.Memory,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		maxHops:       cfg.MaxHops,
		modelTimeout:  cfg.ModelTimeout,
		memoryTimeout: cfg.MemoryTimeout,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxHops <= 0 {
		c.maxHops = DefaultMaxHops
	}
	if c.modelTimeout <= 0 {
		c.modelTimeout = DefaultModelTimeout
	}
	if c.memoryTimeout <= 0 {
		c.memoryTimeout = DefaultMemoryTimeout
	}
	return c, nil
}

// turn carries the mutable state of one Run.
type turn struct {
	req      *Request
	emit     func(Event)
	logger   *slog.Logger
	start    time.Time
	result   *Result
	messages []llm.Message
}

func (t *turn) append(m llm.Message) {
	t.messages = append(t.messages, m)
	t.result.Messages = append(t.result.Messages, m)
}

// Run executes one turn. Events are delivered to emit synchronously and
// in order; emit may be nil. On failure the returned Result is non-nil
// with State StateFailed and holds the messages appended before the
// failure.
//
// Cancellation of ctx is observed between steps. A model or tool call
// already in flight runs to completion under its own timeout, and its
// result is then discarded.
func (c *Controller) Run(ctx context.Context, req *Request, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	t := &turn{
		req:    req,
		emit:   emit,
		logger: c.logger.With("thread_id", req.ThreadID),
		start:  time.Now(),
		result: &Result{State: StateRouting},
	}

	c.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"thread_id": req.ThreadID,
		"user_id":   req.UserID,
	})

	if strings.TrimSpace(req.Message) == "" {
		return c.fail(t, ErrEmptyMessage)
	}

	// ROUTING: assemble the prompt and seed the running sequence.
	t.messages = make([]llm.Message, 0, len(req.History)+4)
	t.messages = append(t.messages, req.History...)
	t.append(llm.Message{Role: llm.RoleUser, Content: req.Message})

	available := c.tools.Descriptions()
	toolDefs := c.tools.List()
	system := c.prompt.Assemble(ctx, req.Message, req.UserID, available)

	t.logger.Debug("turn routed",
		"user_id", req.UserID,
		"history", len(req.History),
		"tools", len(available),
	)

	for hop := 1; ; hop++ {
		if err := ctx.Err(); err != nil {
			return c.fail(t, err)
		}
		if hop > c.maxHops {
			return c.fail(t, fmt.Errorf("%w (%d)", ErrMaxHops, c.maxHops))
		}

		t.result.State = StateCallingModel
		t.result.Hops = hop

		resp, err := c.callModel(ctx, t, hop, system, toolDefs)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.fail(t, ctxErr)
		}
		if err != nil {
			return c.fail(t, &ModelError{Hop: hop, Err: err})
		}

		calls, err := normalizeCalls(resp.Message.ToolCalls)
		if err != nil {
			return c.fail(t, &ModelError{Hop: hop, Err: err})
		}
		content := resp.Message.Content

		if len(calls) == 0 {
			// CALLING_MODEL -> DONE
			t.emit(ModelText{Content: content})
			t.append(llm.Message{Role: llm.RoleAssistant, Content: content})
			return c.done(t, content), nil
		}

		// CALLING_MODEL -> DISPATCHING_TOOLS
		if strings.TrimSpace(content) != "" {
			t.emit(ModelText{Content: content})
		}
		t.append(llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: toLLMCalls(calls)})
		t.result.State = StateDispatchingTools

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return c.fail(t, err)
			}

			t.emit(ToolStarted{Call: call})
			result := c.invoke(ctx, t, call)
			if err := ctx.Err(); err != nil {
				t.logger.Debug("discarding tool result after cancellation",
					"tool", call.Name,
					"call_id", call.ID,
				)
				return c.fail(t, err)
			}
			t.emit(ToolCompleted{Result: result})

			t.append(llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Payload,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			t.result.ToolCalls++
		}
		// DISPATCHING_TOOLS -> CALLING_MODEL
	}
}

// callModel runs one hop detached from ctx cancellation, bounded by the
// model timeout.
func (c *Controller) callModel(ctx context.Context, t *turn, hop int, system llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.modelTimeout)
	defer cancel()

	msgs := make([]llm.Message, 0, len(t.messages)+1)
	msgs = append(msgs, system)
	msgs = append(msgs, t.messages...)

	c.bus.Emit(events.SourceAgent, events.KindModelCall, map[string]any{
		"thread_id": t.req.ThreadID,
		"hop":       hop,
		"model":     c.model,
	})
	t.logger.Log(ctx, llm.LevelTrace, "model request",
		"hop", hop,
		"messages", len(msgs),
		"tools", len(toolDefs),
	)

	start := time.Now()
	resp, err := c.llm.Chat(callCtx, c.model, msgs, toolDefs)
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.modelTimeout, err)
		}
		return nil, err
	}

	c.bus.Emit(events.SourceAgent, events.KindModelResponse, map[string]any{
		"thread_id":  t.req.ThreadID,
		"hop":        hop,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	t.logger.Debug("model responded",
		"hop", hop,
		"tool_calls", len(resp.Message.ToolCalls),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return resp, nil
}

// invoke runs a single tool call. Every error becomes a failed result.
func (c *Controller) invoke(ctx context.Context, t *turn, call ToolCall) ToolResult {
	callCtx := tools.WithCallID(tools.WithThreadID(context.WithoutCancel(ctx), t.req.ThreadID), call.ID)

	c.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"thread_id": t.req.ThreadID,
		"tool":      call.Name,
		"call_id":   call.ID,
	})

	start := time.Now()
	out, err := c.tools.Invoke(callCtx, call.Name, call.Arguments)
	elapsed := time.Since(start)

	result := ToolResult{
		CallID:   call.ID,
		ToolName: call.Name,
		Status:   StatusSucceeded,
		Payload:  out,
		Duration: elapsed,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Payload = "Error: " + err.Error()
		t.logger.Warn("tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
			"duration", elapsed.Round(time.Millisecond),
		)
	} else {
		t.logger.Debug("tool call succeeded",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", elapsed.Round(time.Millisecond),
		)
	}

	c.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"thread_id":   t.req.ThreadID,
		"tool":        call.Name,
		"call_id":     call.ID,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result
}

func (c *Controller) done(t *turn, content string) *Result {
	t.result.State = StateDone
	t.result.Content = content
	t.result.Elapsed = time.Since(t.start)

	c.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"thread_id":  t.req.ThreadID,
		"hops":       t.result.Hops,
		"tool_calls": t.result.ToolCalls,
		"elapsed_ms": t.result.Elapsed.Milliseconds(),
	})
	t.logger.Info("turn complete",
		"state", t.result.State,
		"hops", t.result.Hops,
		"tool_calls", t.result.ToolCalls,
		"duration", t.result.Elapsed.Round(time.Millisecond),
	)

	c.writeBack(t.req, content)
	return t.result
}

func (c *Controller) fail(t *turn, err error) (*Result, error) {
	t.result.State = StateFailed
	t.result.Elapsed = time.Since(t.start)

	c.bus.Emit(events.SourceAgent, events.KindTurnFailed, map[string]any{
		"thread_id":  t.req.ThreadID,
		"hops":       t.result.Hops,
		"error":      err.Error(),
		"elapsed_ms": t.result.Elapsed.Milliseconds(),
	})
	t.logger.Error("turn failed",
		"state", t.result.State,
		"hops", t.result.Hops,
		"error", err,
		"duration", t.result.Elapsed.Round(time.Millisecond),
	)
	return t.result, err
}

// writeBack stores the exchange in memory without blocking the turn.
func (c *Controller) writeBack(req *Request, content string) {
	if c.memory == nil {
		return
	}
	in := memory.Interaction{User: req.Message, Assistant: content}
	userID := req.UserID
	logger := c.logger.With("thread_id", req.ThreadID, "user_id", userID)

	c.writeBacks.Add(1)
	go func() {
		defer c.writeBacks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.memoryTimeout)
		defer cancel()
		if _, err := c.memory.Add(ctx, in, userID); err != nil {
			logger.Warn("memory write-back failed", "error", err)
			return
		}
		logger.Debug("memory write-back stored")
	}()
}

// Wait blocks until pending memory write-backs finish.
func (c *Controller) Wait() {
	c.writeBacks.Wait()
}

// normalizeCalls converts model tool calls, assigning ids to calls that
// arrived without one so tool messages always reference a requested id.
func normalizeCalls(in []llm.ToolCall) ([]ToolCall, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ToolCall, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, tc := range in {
		if strings.TrimSpace(tc.Function.Name) == "" {
			return nil, fmt.Errorf("%w: tool call %d has no name", ErrMalformedResponse, i)
		}
		id := tc.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()
		}
		seen[id] = true
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func toLLMCalls(calls []ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{
			ID: c.ID,
			Function: llm.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	}
	return out
}

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nugget/chattr/internal/llm"
	"github.com/nugget/chattr/internal/memory"
	"github.com/nugget/chattr/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockLLM returns scripted responses in order and records each request.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	requests  [][]llm.Message
	ctxErrs   []error
	onCall    func(hop int)
}

func (m *mockLLM) Chat(ctx context.Context, _ string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	hop := len(m.requests)
	m.requests = append(m.requests, append([]llm.Message(nil), messages...))
	onCall := m.onCall
	m.mu.Unlock()

	if onCall != nil {
		onCall(hop)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if hop < len(m.errs) && m.errs[hop] != nil {
		return nil, m.errs[hop]
	}
	if hop >= len(m.responses) {
		return nil, errors.New("mock: no more responses")
	}
	return m.responses[hop], nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func text(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: llm.RoleAssistant, Content: content},
	}
}

func calls(content string, tcs ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: tcs},
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// stubPrompt returns a fixed system message.
type stubPrompt struct {
	mu      sync.Mutex
	queries []string
}

func (p *stubPrompt) Assemble(_ context.Context, query, _ string, _ []tools.Description) llm.Message {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	return llm.Message{Role: llm.RoleSystem, Content: "You are Napoleon."}
}

// recordingMemory captures write-backs.
type recordingMemory struct {
	mu     sync.Mutex
	added  []memory.Interaction
	users  []string
	addErr error
}

func (r *recordingMemory) Search(context.Context, string, string) ([]memory.Result, error) {
	return nil, nil
}

func (r *recordingMemory) Add(_ context.Context, in memory.Interaction, userID string) (*memory.AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, in)
	r.users = append(r.users, userID)
	if r.addErr != nil {
		return nil, r.addErr
	}
	return &memory.AddResult{}, nil
}

func (r *recordingMemory) Close() error { return nil }

// staticSource offers a fixed tool set.
type staticSource []*tools.Tool

func (staticSource) Name() string { return "static" }

func (s staticSource) Connect(context.Context) ([]*tools.Tool, error) { return s, nil }

func (staticSource) Close() error { return nil }

// newRegistry builds a connected registry from handlers keyed by name.
func newRegistry(t *testing.T, handlers map[string]tools.Handler) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(tools.RegistryConfig{Logger: discardLogger()})
	var src staticSource
	for name, h := range handlers {
		src = append(src, &tools.Tool{Name: name, Description: name, Handler: h})
	}
	reg.AddSource(src)
	if err := reg.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return reg
}

func newController(t *testing.T, mock *mockLLM, reg ToolSet, mem memory.Store) *Controller {
	t.Helper()
	c, err := New(Config{
		LLM:    mock,
		Model:  "test-model",
		Tools:  reg,
		Prompt: &stubPrompt{},
		Memory: mem,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// collector gathers emitted events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

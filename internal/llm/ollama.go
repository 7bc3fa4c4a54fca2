package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/chattr/internal/httpkit"
)

// OllamaClient is a client for the Ollama /api/chat endpoint.
type OllamaClient struct {
	baseURL     string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOllamaClient creates a new Ollama client. The HTTP client has no
// overall timeout; callers bound each call with a context deadline.
func NewOllamaClient(baseURL string, temperature float64, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: temperature,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{ID: tc.ID, Function: tc.Function})
		}
		out[i] = om
	}
	return out
}

func (r *ollamaResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model:         r.Model,
		Done:          r.Done,
		InputTokens:   r.PromptEvalCount,
		OutputTokens:  r.EvalCount,
		TotalDuration: time.Duration(r.TotalDuration),
		Message: Message{
			Role:    RoleAssistant,
			Content: r.Message.Content,
		},
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	for _, tc := range r.Message.ToolCalls {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{ID: tc.ID, Function: tc.Function})
	}

	// Some models emit tool calls as JSON text instead of native tool_calls.
	if len(resp.Message.ToolCalls) == 0 && resp.Message.Content != "" {
		if parsed := parseTextToolCalls(resp.Message.Content); len(parsed) > 0 {
			resp.Message.ToolCalls = parsed
			resp.Message.Content = ""
		}
	}
	return resp
}

// Chat sends a non-streaming chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Tools:    tools,
		Options:  &ollamaOptions{Temperature: c.temperature},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "model", model, "body", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var wire ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama response",
		"model", wire.Model,
		"content", wire.Message.Content,
		"tool_calls", len(wire.Message.ToolCalls),
	)

	return wire.toChatResponse(), nil
}

// parseTextToolCalls attempts to extract tool calls from content text.
// It handles a raw JSON object {"name": ..., "arguments": {...}}, a JSON
// array of those, and either form wrapped in <tool_call> tags.
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	var calls []textCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil || len(calls) == 0 {
		var single textCall
		if err := json.Unmarshal([]byte(content), &single); err != nil || single.Name == "" {
			return nil
		}
		calls = []textCall{single}
	}

	result := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Name == "" {
			return nil
		}
		result = append(result, ToolCall{Function: FunctionCall{Name: c.Name, Arguments: c.Arguments}})
	}
	return result
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

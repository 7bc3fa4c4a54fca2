package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/nugget/chattr/internal/httpkit"
)

// generator is the subset of [llms.Model] the OpenAI client needs.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// through langchaingo.
type OpenAIClient struct {
	gen         generator
	baseURL     string
	apiKey      string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	gen, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	return &OpenAIClient{
		gen:         gen,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Chat sends a chat completion request with tools.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	content, err := toMessageContent(messages)
	if err != nil {
		return nil, err
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(tools)))
	}

	start := time.Now()
	resp, err := c.gen.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response: no choices")
	}

	choice := resp.Choices[0]
	c.logger.Log(ctx, LevelTrace, "openai response",
		"model", model,
		"content", choice.Content,
		"tool_calls", len(choice.ToolCalls),
		"stop_reason", choice.StopReason,
	)

	out := &ChatResponse{
		Model:         model,
		CreatedAt:     time.Now(),
		Done:          true,
		TotalDuration: time.Since(start),
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Content,
		},
	}
	out.InputTokens, _ = choice.GenerationInfo["PromptTokens"].(int)
	out.OutputTokens, _ = choice.GenerationInfo["CompletionTokens"].(int)

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			return nil, fmt.Errorf("tool call %s has no function", tc.ID)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.FunctionCall.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("decode arguments for %s: %w", tc.FunctionCall.Name, err)
			}
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.FunctionCall.Name, Arguments: args},
		})
	}

	return out, nil
}

// toMessageContent converts chat messages into langchaingo content.
func toMessageContent(messages []Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					return nil, fmt.Errorf("encode arguments for %s: %w", tc.Function.Name, err)
				}
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, mc)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

// toLLMTools converts OpenAI function-format tool maps into
// langchaingo tool definitions.
func toLLMTools(tools []map[string]any) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: desc,
				Parameters:  fn["parameters"],
			},
		})
	}
	return out
}

// Ping checks that the endpoint answers the models listing.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	base := c.baseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

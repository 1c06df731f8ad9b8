package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient adapts Anthropic's Messages API to the llm.Client
// contract. Requests are non-streaming; the full message is returned
// in one call.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
	ready  bool
}

// AnthropicOption configures the Anthropic adapter.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	baseURL string
	logger  *slog.Logger
}

// WithAnthropicBaseURL overrides the default API base URL.
func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(c *anthropicConfig) {
		c.baseURL = baseURL
	}
}

// WithAnthropicLogger configures the adapter logger.
func WithAnthropicLogger(logger *slog.Logger) AnthropicOption {
	return func(c *anthropicConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewAnthropicClient creates an adapter for the given API key and model.
func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	cfg := anthropicConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &AnthropicClient{model: model, logger: cfg.logger}
	if apiKey != "" {
		options := []option.RequestOption{option.WithAPIKey(apiKey)}
		if strings.TrimSpace(cfg.baseURL) != "" {
			options = append(options, option.WithBaseURL(cfg.baseURL))
		}
		c.client = anthropic.NewClient(options...)
		c.ready = true
	}
	return c
}

// Generate implements llm.Client.
func (c *AnthropicClient) Generate(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
	if !c.ready {
		return nil, errors.New("anthropic: API key not configured")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var contents []models.Content
	var toolCalls []models.ToolCall

	for _, block := range message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				contents = append(contents, models.TextContent(block.Text))
			}
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					c.logger.Warn("anthropic: tool use input is not valid JSON, using empty object",
						"tool", block.Name,
						"error", err,
					)
					args = map[string]any{}
				}
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}

	return &models.LLMResponse{
		Message:      models.NewModelMessage(contents, toolCalls),
		FinishReason: string(message.StopReason),
		TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// convertMessagesToAnthropic maps internal history to the Messages API
// shape. Tool result messages become user turns carrying a tool_result
// block; Anthropic has no dedicated tool role.
func convertMessagesToAnthropic(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleUser:
			if text := msg.Text(); text != "" {
				content = append(content, anthropic.NewTextBlock(text))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleModel:
			if text := msg.Text(); text != "" {
				content = append(content, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		case models.RoleTool:
			if msg.ToolCallID == "" {
				return nil, fmt.Errorf("tool message for %q has no call ID", msg.ToolName)
			}
			var body string
			isError := false
			if msg.Result != nil {
				body = msg.Result.JSON()
				isError = !msg.Result.Success
			}
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, body, isError))
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertToolsToAnthropic(tools []llm.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

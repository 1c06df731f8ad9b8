// Package providers contains the concrete LLM adapters behind the
// llm.Client contract.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/emachat/ema/internal/llm"
	"github.com/emachat/ema/pkg/models"
)

const defaultOpenAIMaxTokens = 4096

// OpenAIClient adapts OpenAI-compatible chat-completion backends to
// the llm.Client contract. The zero API key is rejected at Generate
// time so construction can happen before configuration is complete.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIOption configures the OpenAI adapter.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	logger  *slog.Logger
}

// WithOpenAIBaseURL points the adapter at an OpenAI-compatible server.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = baseURL
	}
}

// WithOpenAILogger configures the adapter logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(c *openAIConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenAIClient creates an adapter for the given API key and model.
func NewOpenAIClient(apiKey, model string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openAIConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var client *openai.Client
	if apiKey != "" {
		clientCfg := openai.DefaultConfig(apiKey)
		if cfg.baseURL != "" {
			clientCfg.BaseURL = cfg.baseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}

	return &OpenAIClient{client: client, model: model, logger: cfg.logger}
}

// Generate implements llm.Client.
func (c *OpenAIClient) Generate(ctx context.Context, req *llm.Request) (*models.LLMResponse, error) {
	if c.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessagesToOpenAI(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = defaultOpenAIMaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]

	var contents []models.Content
	if choice.Message.Content != "" {
		contents = append(contents, models.TextContent(choice.Message.Content))
	}

	var toolCalls []models.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				c.logger.Warn("openai: tool call arguments are not valid JSON, using empty object",
					"tool", tc.Function.Name,
					"error", err,
				)
				args = map[string]any{}
			}
		}
		toolCalls = append(toolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return &models.LLMResponse{
		Message:      models.NewModelMessage(contents, toolCalls),
		FinishReason: string(choice.FinishReason),
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func convertMessagesToOpenAI(system string, messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})

		case models.RoleModel:
			entry := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls {
				entry.ToolCalls = append(entry.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgsJSON(),
					},
				})
			}
			result = append(result, entry)

		case models.RoleTool:
			var content string
			if msg.Result != nil {
				content = msg.Result.JSON()
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Name:       msg.ToolName,
				Content:    content,
			})
		}
	}

	return result
}

func convertToolsToOpenAI(tools []llm.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return result
}
